package kitchen

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/cafe-orders/internal/realtime"
)

// TextRenderer draws frames as plain text, clearing the terminal between
// frames when Clear is set.
type TextRenderer struct {
	w     io.Writer
	Clear bool
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(f Frame) error {
	var b strings.Builder
	if r.Clear {
		b.WriteString("\033[H\033[2J")
	}

	fmt.Fprintf(&b, "%s view | %s | %s\n", strings.ToUpper(string(f.View)), connectivity(f.State), f.Now.Format("15:04:05"))
	if f.RefreshErr != nil {
		fmt.Fprintf(&b, "! refresh failed: %v\n", f.RefreshErr)
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")

	if len(f.Tickets) == 0 {
		b.WriteString("no orders\n")
	}
	for _, t := range f.Tickets {
		header := fmt.Sprintf("%s  %-9s  %s", t.Number, t.Status, formatElapsed(t.Elapsed))
		if t.Parts > 1 {
			header += fmt.Sprintf("  (%d/%d)", t.Part, t.Parts)
		}
		if t.IsContinuation {
			header += "  cont."
		}
		b.WriteString(header + "\n")
		if !t.IsContinuation {
			if t.TableNumber > 0 {
				fmt.Fprintf(&b, "   table %d, %s\n", t.TableNumber, t.Type)
			} else if t.Type != "" {
				fmt.Fprintf(&b, "   %s\n", t.Type)
			}
		}
		for _, it := range t.Items {
			fmt.Fprintf(&b, "   %2dx %s\n", it.Quantity, it.Name)
		}
		if t.IsLastPart && t.Notes != "" {
			fmt.Fprintf(&b, "   note: %s\n", t.Notes)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func connectivity(s realtime.State) string {
	switch s {
	case realtime.StateConnected:
		return "live"
	case realtime.StateDisconnected:
		return "OFFLINE (polling)"
	default:
		return "connecting"
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", m, s)
}
