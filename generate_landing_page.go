package cardworker

import (
	"fmt"
	"html"
)

// GenerateLandingPage will generate a simple landing page showing the dispatch
// mode and whether new documents are accepted.
func GenerateLandingPage(dispatchMode string, state *ServiceState) string {

	status := "RUNNING"
	if err := state.refusal(); err != nil {
		status = "BUSY: " + err.Error()
	}

	text := `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>open-card</title>` +
		`<style> html, body{font-family: "Fixedsys,Courier,monospace";}body {max-width: 960px; min-width: 320px;` +
		`margin: 0 auto;}section {margin: 3em 1.5em 0 1.5em;}` +
		`.nes-container {position: relative; padding: 1.5rem 2rem; border-color: #000; border-style: solid;` +
		`border-width: 4px;} .nes-container.with-title > .title {display: table;padding: 0 .5rem;margin: -2.2rem 0 1rem; font-size:` +
		`1rem;background-color: #fff;}` +
		`</style></head><body>` +
		`<section class="nes-container with-title"><h2 class="title">open-card ></h2>` +
		`<div><p>Status: %s</p><p>Dispatch: %s</p>` +
		`<pre>curl -F "file=@aadhaar.jpg" http://host/process</pre>` +
		`<p>Accepted files: pdf, jpg, jpeg, png. Metrics are served on <a href="/metrics">/metrics</a>.</p>` +
		`</div></section></body> </html>`
	return fmt.Sprintf(text, html.EscapeString(status), html.EscapeString(dispatchMode))

}
