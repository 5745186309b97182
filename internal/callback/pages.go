package callback

import (
	"html/template"
	"log/slog"
	"net/http"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Twitch Indicator</title>
<style>
body { font-family: sans-serif; background: #0e0e10; color: #efeff1; text-align: center; padding-top: 15vh; }
h1 { color: {{if .Failed}}#eb0400{{else}}#9146ff{{end}}; }
</style>
</head>
<body>
<h1>{{.Heading}}</h1>
<p id="status">{{.Message}}</p>
{{if .Relay}}<script>
(function () {
  var fragment = window.location.hash.substring(1);
  if (fragment) {
    window.location.replace(window.location.pathname + "?" + fragment);
    return;
  }
  document.getElementById("status").textContent = "No authorization response found in this URL.";
})();
</script>{{end}}
</body>
</html>
`))

type page struct {
	Heading string
	Message string
	Failed  bool
	Relay   bool
}

var (
	pageSuccess   = page{Heading: "Login successful", Message: "Twitch Indicator is now connected. You may close this tab."}
	pageRelay     = page{Heading: "Completing login", Message: "Finishing authorization..."}
	pageDenied    = page{Heading: "Login failed", Message: "Twitch did not grant access. You may close this tab and try again.", Failed: true}
	pageBadState  = page{Heading: "Login failed", Message: "This authorization response does not belong to the current login attempt.", Failed: true}
	pageMalformed = page{Heading: "Login failed", Message: "The authorization response is missing the code or token.", Failed: true}
	pageDuplicate = page{Heading: "Already completed", Message: "This login attempt has already finished. You may close this tab.", Failed: true}
)

func render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		slog.Debug("Callback: failed to render page", "error", err)
	}
}
