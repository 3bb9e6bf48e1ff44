package cli

import (
	"fmt"
	"io"

	"shared-list-server/internal/domain"
)

func renderState(w io.Writer, state *domain.ListState) {
	fmt.Fprintf(w, "%s  (version %d, modified %s)\n", state.ID, state.Version, formatTime(state.LastModified))

	active := domain.SortForDisplay(state.Items)
	done := domain.Completed(state.Items)
	if len(active) == 0 && len(done) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, it := range active {
		fmt.Fprintf(w, "  [ ] %-8s  %s\n", shortID(it.ID), it.Text)
	}
	for _, it := range done {
		fmt.Fprintf(w, "  [x] %-8s  %s\n", shortID(it.ID), it.Text)
	}
}
