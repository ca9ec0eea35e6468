package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/geiger-sensor/internal/status"
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
	"f3": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"f4": func(v float64) string { return fmt.Sprintf("%.4f", v) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Geiger Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Geiger Sensor</h1>

<h2>Dose</h2>
<table>
<tr><th>Dose rate</th><td id="rate">{{f3 .Reading.DoseRate}} uSv/h</td></tr>
<tr><th>Total dose</th><td id="total">{{f4 .Reading.TotalDose}} uSv</td></tr>
<tr><th>Count rate</th><td id="cpm">{{printf "%.1f" .Reading.SmoothedCPM}} CPM</td></tr>
<tr><th>Filter</th><td>{{.Reading.Filter}}</td></tr>
<tr><th>Detector</th><td id="fault" class="{{if eq .Reading.Fault.String "NONE"}}ok{{else}}fault{{end}}">{{if eq .Reading.Fault.String "NONE"}}OK{{else}}{{.Reading.Fault}} FAULT{{end}}</td></tr>
{{if .Reading.Saturated}}<tr><th>Saturated</th><td class="warn">yes</td></tr>{{end}}
<tr><th>HV supply</th><td>{{if .HVOn}}on{{else}}off{{end}} ({{.HVCounts}} edges)</td></tr>
<tr><th>Alarm</th><td class="{{if .AlarmActive}}fault{{end}}">{{if .AlarmLevel}}{{f3 .AlarmLevel}} uSv/h{{else}}disabled{{end}}{{if .AlarmActive}} ACTIVE{{if .AlarmAcknowledged}} (acknowledged){{end}}{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.WSBroker}}<tr><th>Live feed</th><td>{{.Config.WSBroker}}</td></tr>{{end}}
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Clock</th><td>{{.Clock}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Log interval</th><td>{{if .LogInterval}}{{.LogInterval}}s{{else}}disabled{{end}}</td></tr>
<tr><th>Last save</th><td>{{if .LastSave.IsZero}}never{{else}}{{.LastSave.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
{{if .Calibration}}<tr><th>Tick period</th><td>{{.Calibration.Period}} ({{printf "%.1f" .Calibration.PPM}} ppm)</td></tr>{{end}}
<tr><th>Storage</th><td>{{.Config.Storage}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  function refresh() {
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(j) {
      var s = j.status;
      document.getElementById("rate").textContent = s.dose.rate_usvh.toFixed(3) + " uSv/h";
      document.getElementById("total").textContent = s.dose.total_usv.toFixed(4) + " uSv";
      document.getElementById("cpm").textContent = s.dose.cpm.toFixed(1) + " CPM";
      var f = document.getElementById("fault");
      f.textContent = s.fault === "NONE" ? "OK" : s.fault + " FAULT";
      f.className = s.fault === "NONE" ? "ok" : "fault";
    }).catch(function() {});
  }
  setInterval(refresh, 5000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has an Uptime method but the template needs a value.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
