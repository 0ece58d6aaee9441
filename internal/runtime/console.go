package runtime

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-dictation/internal/uibridge"
)

// runConsole applies control lines read from r until EOF or "quit".
func runConsole(r io.Reader, ctrl uibridge.Controller, log *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(strings.ToLower(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "start":
			ctrl.StartListening()
		case "stop":
			ctrl.StopListening()
		case "keyboard":
			if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
				log.Warn("usage: keyboard on|off")
				continue
			}
			ctrl.ToggleKeyboardOutput(fields[1] == "on")
		case "quit", "exit":
			return
		default:
			log.Warn("unknown console command", slog.String("command", fields[0]))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("console read error", slog.String("error", err.Error()))
	}
}
