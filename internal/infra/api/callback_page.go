package api

import (
	"html/template"
	"net/http"
)

type resultPage struct {
	Lang      string
	Dir       string
	Title     string
	OK        bool
	Message   string
	Reference string
	Code      string
	Note      string
}

var page = template.Must(template.New("cb").Parse(`<!doctype html>
<html lang="{{.Lang}}" dir="{{.Dir}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Tahoma,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{.Message}}</h2>
  {{if .Reference}}<p>{{.Reference}}</p>{{end}}
  {{if .Note}}<p>{{.Note}}</p>{{end}}
  {{if .Code}}<div class="small">{{.Code}}</div>{{end}}
</div>
</body>
</html>`))

func (s *Server) renderPage(w http.ResponseWriter, code int, p resultPage) {
	p.Lang = s.tr.Lang()
	p.Dir = "ltr"
	if p.Lang == "fa" {
		p.Dir = "rtl"
	}
	p.Title = s.tr.T("page_title")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = page.Execute(w, p)
}
