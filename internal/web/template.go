package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pin-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"level": func(high bool) string {
		if high {
			return "high"
		}
		return "low"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pin Monitor</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.high { color: green; font-weight: bold; }
.low { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.warn { color: orange; }
</style>
</head>
<body>
<h1>Pin Monitor</h1>

<h2>Pins</h2>
<table>
<tr><th>Pin</th><th>Kind</th><th>Listeners</th><th>Level</th><th>Source</th><th>Debounce</th></tr>
{{range .Pins}}<tr><td>{{.ID}}</td><td>{{.Kind}}</td><td>{{.Listeners}}</td><td class="{{level .Level}}">{{level .Level}}</td><td>{{if .Polled}}poll{{else}}irq{{end}}</td><td>{{if .Debouncing}}running{{else}}idle{{end}}</td></tr>
{{else}}<tr><td colspan="6">no pins registered</td></tr>
{{end}}</table>

<h2>Listeners</h2>
<table>
<tr><th>Name</th><th>Kind</th><th>Pins</th><th>Active</th><th>States</th><th>Enabled</th></tr>
{{range .Listeners}}<tr><td>{{.Name}}</td><td>{{.Kind}}</td><td>{{.Pins}}</td><td>{{.Active}}</td><td>{{.States}}</td><td>{{if .Enabled}}yes{{else}}no{{end}}</td></tr>
{{end}}</table>

{{if .Last}}<p>Last event: {{.Last.Listener}} {{.Last.Event}} at {{.Last.Time.UTC.Format "2006-01-02T15:04:05.000Z"}}</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Ticks</th><td>{{.Stats.Ticks}}{{if not .Stats.TickInstalled}} (idle){{end}}</td></tr>
<tr><th>Max tick</th><td>{{.Stats.MaxTick}}</td></tr>
<tr><th>Dropped</th><td class="{{if .Stats.Dropped}}warn{{end}}">{{.Stats.Dropped}}</td></tr>
<tr><th>Aborted</th><td class="{{if .Stats.Aborted}}warn{{end}}">{{.Stats.Aborted}}</td></tr>
<tr><th>Bounced</th><td>{{.Stats.Bounced}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/status.txt">text</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
