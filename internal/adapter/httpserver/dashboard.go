package httpserver

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

var loginTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>taskhub login</title></head>
<body>
<h1>taskhub</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
<form method="post" action="/dashboard/login">
<label>Username <input name="username" autocomplete="username"></label><br>
<label>Password <input name="password" type="password" autocomplete="current-password"></label><br>
<button type="submit">Sign in</button>
</form>
</body></html>`))

var overviewTmpl = template.Must(template.New("overview").Parse(`<!DOCTYPE html>
<html><head><title>taskhub dashboard</title></head>
<body>
<h1>System status</h1>
<p>Overall: <strong>{{.Status.OverallHealth}}</strong> | Operational: {{.Status.IsOperational}} | Env: {{.Status.Environment}} | Version: {{.Status.Version}}</p>
<p>Pending: {{.Status.PendingTasks}} | Processing: {{.Status.ProcessingTasks}} | Failed: {{.Status.FailedTasks}}</p>
<h2>Queues ({{len .Queues}})</h2>
<table border="1" cellpadding="4">
<tr><th>Name</th><th>Active</th><th>Priority</th><th>Workers</th></tr>
{{range .Queues}}<tr><td>{{.Name}}</td><td>{{.IsActive}}</td><td>{{.Priority}}</td><td>{{.MaxWorkers}}</td></tr>{{end}}
</table>
<h2>Active alarms ({{len .Alarms}})</h2>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Severity</th><th>Title</th><th>Occurrences</th><th>Triggered</th></tr>
{{range .Alarms}}<tr><td>{{.ID}}</td><td>{{.Severity}}</td><td>{{.Title}}</td><td>{{.OccurrenceCount}}</td><td>{{.TriggeredAt}}</td></tr>{{end}}
</table>
<p><a href="/dashboard/logout">Log out</a> | Rendered {{.Now}}</p>
</body></html>`))

// LoginPageHandler renders the dashboard login form.
func (s *Server) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginTmpl.Execute(w, map[string]any{"Error": r.URL.Query().Get("error")})
}

// LoginSubmitHandler verifies credentials and opens a session.
func (s *Server) LoginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/dashboard/login?error=invalid+form", http.StatusSeeOther)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username != s.Cfg.AdminUsername || !VerifyPassword(password, s.Cfg.AdminPasswordHash) {
		slog.Warn("dashboard login rejected", slog.String("username", username))
		http.Redirect(w, r, "/dashboard/login?error=invalid+credentials", http.StatusSeeOther)
		return
	}
	session, err := s.sessions.CreateSession(username)
	if err != nil {
		http.Redirect(w, r, "/dashboard/login?error=session+error", http.StatusSeeOther)
		return
	}
	s.sessions.SetSessionCookie(w, session)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// LogoutHandler clears the session.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearSessionCookie(w)
	http.Redirect(w, r, "/dashboard/login", http.StatusSeeOther)
}

// Sessions exposes the session manager for route wiring.
func (s *Server) Sessions() *SessionManager { return s.sessions }

type overviewData struct {
	Status systemStatusDTO
	Queues []queueDTO
	Alarms []alarmDTO
	Now    string
}

func (s *Server) overview(r *http.Request) (overviewData, error) {
	st, err := s.Status.Get(r.Context())
	if err != nil {
		return overviewData{}, err
	}
	queues, err := s.Queues.List(r.Context())
	if err != nil {
		return overviewData{}, err
	}
	alarms, err := s.Alarms.Active(r.Context())
	if err != nil {
		return overviewData{}, err
	}
	data := overviewData{Now: time.Now().UTC().Format(time.RFC3339)}
	data.Status = systemStatusDTO{
		IsOperational:   st.IsOperational,
		OverallHealth:   string(st.OverallHealth),
		QueueHealth:     string(st.QueueHealth),
		DatabaseHealth:  string(st.DatabaseHealth),
		BrokerHealth:    string(st.BrokerHealth),
		ActiveQueues:    st.ActiveQueues,
		PendingTasks:    st.PendingTasks,
		ProcessingTasks: st.ProcessingTasks,
		FailedTasks:     st.FailedTasks,
		UptimeStarted:   st.UptimeStarted,
		Version:         st.Version,
		Environment:     st.Environment,
	}
	for _, q := range queues {
		data.Queues = append(data.Queues, queueDTO{
			Name:       q.Name,
			IsActive:   q.IsActive,
			Priority:   string(q.Priority),
			MaxWorkers: q.MaxWorkers,
		})
	}
	for _, a := range alarms {
		data.Alarms = append(data.Alarms, toAlarmDTO(a))
	}
	return data, nil
}

// DashboardHandler renders the read-only HTML overview.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.overview(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = overviewTmpl.Execute(w, data)
}

// DashboardOverviewAPIHandler serves the same overview as JSON.
func (s *Server) DashboardOverviewAPIHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.overview(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": data.Status,
		"queues": data.Queues,
		"alarms": data.Alarms,
	})
}
