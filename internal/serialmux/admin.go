package serialmux

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

var consoleTemplate = template.Must(template.New("board").Parse(`<!DOCTYPE html>
<html>
<head><title>motor board console</title></head>
<body>
<h1>motor board console</h1>
<form id="send">
  <input name="command" placeholder="STEER 0" autofocus>
  <button type="submit">send</button>
</form>
<p>Commands: {{range .}}<code>{{.}}</code> {{end}}</p>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const form = document.getElementById("send");
form.onsubmit = async (e) => {
  e.preventDefault();
  const res = await fetch("board/command", {method: "POST", body: new URLSearchParams(new FormData(form))});
  tail.textContent += "> " + (await res.text()) + "\n";
};
new EventSource("board/tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
</script>
</body>
</html>
`))

// consoleCommands is shown on the console page as a reminder.
var consoleCommands = []string{"STEER <deg>", "PAN <deg>", "TILT <deg>", "FWD <power>", "BWD <power>", "STOP"}

// attachAdminRoutes mounts the board console for any link:
//
//	/debug/board          HTML console
//	/debug/board/command  POST command=<line>
//	/debug/board/tail     server-sent events, one per reply line
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("board", "Motor board console", func(w http.ResponseWriter, r *http.Request) {
		var page strings.Builder
		if err := consoleTemplate.Execute(&page, consoleCommands); err != nil {
			http.Error(w, "failed to render console", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page.String())
	})

	debug.HandleSilentFunc("board/command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		err := s.SendCommand(command)
		switch {
		case errors.Is(err, ErrInvalidCommand):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			http.Error(w, "failed to write command", http.StatusInternalServerError)
		default:
			fmt.Fprintf(w, "sent %q", command)
		}
	})

	debug.HandleSilentFunc("board/tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		id, replies := s.Subscribe()
		defer s.Unsubscribe(id)

		// the comment line tells the client the subscription exists
		fmt.Fprint(w, ": subscribed\n\n")
		flusher.Flush()
		for {
			select {
			case line, ok := <-replies:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
