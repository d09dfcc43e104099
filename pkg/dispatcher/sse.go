package dispatcher

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/dispatch-core/pkg/events"
)

func writeSSE(w io.Writer, evt *events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}
