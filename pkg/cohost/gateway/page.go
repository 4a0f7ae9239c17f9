package gateway

import (
	"html/template"
	"net/http"
)

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>AI Co-Host</title>
  <style>
    body { font-family: Arial, sans-serif; max-width: 800px; margin: 40px auto; padding: 0 20px; line-height: 1.6; }
    .button { display: inline-block; padding: 10px 20px; background-color: #9146FF; color: white; text-decoration: none; border-radius: 5px; }
    .warning { color: #e74c3c; }
    .code { background: #f8f9fa; padding: 2px 5px; border-radius: 3px; font-family: monospace; }
  </style>
</head>
<body>
  <h1>AI Co-Host</h1>

  <h2>Current Status</h2>
  <p>Bot Status: <span class="code">{{.Status}}</span></p>
  <p>Platform: <span class="code">{{.Platform}}</span></p>
  <p>Channel: <span class="code">{{.Channel}}</span></p>
  <p>Speech: <span class="code">{{if .TTSReady}}ready{{else}}unavailable{{end}}</span></p>

  {{if .OAuth}}
  <h2>Setup Instructions</h2>
  <ol>
    <li>Make sure you have set all required environment variables:
      <ul>
        <li>TWITCH_CLIENT_ID</li>
        <li>TWITCH_CLIENT_SECRET</li>
        <li>TWITCH_CHANNEL</li>
        <li>TWITCH_BOT_USERNAME</li>
      </ul>
    </li>
    <li>Click the button below to authenticate with Twitch</li>
    <li>Log in with your bot account (not your main streaming account)</li>
    <li>Authorize the application</li>
  </ol>

  <p><a href="/auth/login" class="button">Authenticate with Twitch</a></p>

  <h2>Troubleshooting</h2>
  <ol>
    <li>Check if all environment variables are set correctly</li>
    <li>Make sure your Twitch Application is properly configured at <a href="https://dev.twitch.tv/console">Twitch Developer Console</a></li>
    <li>Verify that the OAuth Redirect URL of your application points at <span class="code">/auth/callback</span> on this server</li>
  </ol>

  <p class="warning">Note: Always authenticate using the button above. Do not access the callback URL directly.</p>
  {{end}}
</body>
</html>
`))

type homeData struct {
	Status   string
	Platform string
	Channel  string
	TTSReady bool
	OAuth    bool
}

// handleHome implements GET /.
func (g *Gateway) handleHome(w http.ResponseWriter, r *http.Request) {
	st := g.deps.Bot.Status()
	data := homeData{
		Status:   "Waiting for Authentication",
		Platform: st.Platform,
		Channel:  st.Channel,
		TTSReady: st.TTSReady,
		OAuth:    g.deps.Auth != nil,
	}
	if st.ConnectedAt != nil {
		data.Status = "Online"
	}
	if data.Channel == "" {
		data.Channel = "Not Set"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTemplate.Execute(w, data); err != nil {
		g.logger.Error("rendering home page", "error", err)
	}
}
