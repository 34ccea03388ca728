package callback

import (
	"html/template"
	"log/slog"
	"net/http"
)

type page struct {
	Title       string
	Heading     string
	Failed      bool
	Error       string
	Description string
	Message     string
	Command     string
	User        string
	Site        string
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            max-width: 600px;
            margin: 50px auto;
            padding: 20px;
            background: #f5f5f5;
        }
        .container {
            background: white;
            padding: 30px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #27ae60; }
        h1.failed { color: #e74c3c; }
        .error {
            background: #fee;
            padding: 15px;
            border-radius: 4px;
            border-left: 4px solid #e74c3c;
            margin: 20px 0;
        }
        .code-box {
            background: #f8f9fa;
            padding: 15px;
            border-radius: 4px;
            font-family: 'Courier New', monospace;
            font-size: 14px;
            margin: 20px 0;
            word-break: break-all;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1{{if .Failed}} class="failed"{{end}}>{{.Heading}}</h1>
        {{- if .Error}}
        <div class="error">
            <strong>Error:</strong> {{.Error}}<br>
            {{- if .Description}}
            <strong>Description:</strong> {{.Description}}
            {{- end}}
        </div>
        {{- end}}
        {{- if .User}}
        <p><strong>Welcome, {{.User}}!</strong></p>
        {{- end}}
        {{- if .Site}}
        <p><strong>Workspace:</strong> {{.Site}}</p>
        {{- end}}
        <p>{{.Message}}</p>
        {{- if .Command}}
        <div class="code-box" id="command">{{.Command}}</div>
        {{- end}}
    </div>
</body>
</html>`))

func render(w http.ResponseWriter, logger *slog.Logger, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		logger.Error("failed to render callback page", "error", err)
	}
}
