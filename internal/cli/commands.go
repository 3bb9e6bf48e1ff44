package cli

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"shared-list-server/internal/client"
	"shared-list-server/internal/domain"
	"shared-list-server/internal/rank"

	"github.com/spf13/cobra"
)

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [id]",
		Short: "Create an empty list",
		Long:  `Create an empty list. Without an id the server generates one.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := a.v.GetString(keyList)
			if len(args) == 1 {
				id = args[0]
			}
			list, err := a.client().CreateList(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to create list: %w", err)
			}
			fmt.Fprintf(a.out, "Created list %s\n", list.ID)
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := a.listID()
			if err != nil {
				return err
			}
			state, err := a.client().Get(cmd.Context(), listID)
			if err != nil {
				return fmt.Errorf("failed to read list: %w", err)
			}
			renderState(a.out, state)
			return nil
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>",
		Short: "Add an item at the top of the list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return a.write(cmd, func(p *client.Planner, _ []domain.Item) (client.Edit, error) {
				return p.AddItem(text)
			})
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <text>",
		Short: "Change an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return a.write(cmd, func(p *client.Planner, items []domain.Item) (client.Edit, error) {
				id, err := resolveID(items, args[0])
				if err != nil {
					return client.Edit{}, err
				}
				return p.Edit(id, text)
			})
		},
	}
}

func (a *app) doneCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark an item completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.write(cmd, func(p *client.Planner, items []domain.Item) (client.Edit, error) {
				id, err := resolveID(items, args[0])
				if err != nil {
					return client.Edit{}, err
				}
				if undo {
					return p.Reopen(id)
				}
				return p.Complete(id)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "reopen a completed item")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.write(cmd, func(p *client.Planner, items []domain.Item) (client.Edit, error) {
				id, err := resolveID(items, args[0])
				if err != nil {
					return client.Edit{}, err
				}
				return p.Remove(id)
			})
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	var before, after string
	cmd := &cobra.Command{
		Use:   "move <id> --before <id> | --after <id>",
		Short: "Reorder an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (before == "") == (after == "") {
				return errors.New("exactly one of --before and --after is required")
			}
			return a.write(cmd, func(p *client.Planner, items []domain.Item) (client.Edit, error) {
				id, err := resolveID(items, args[0])
				if err != nil {
					return client.Edit{}, err
				}
				if before != "" {
					neighbor, err := resolveID(items, before)
					if err != nil {
						return client.Edit{}, err
					}
					return p.MoveBefore(id, neighbor)
				}
				neighbor, err := resolveID(items, after)
				if err != nil {
					return client.Edit{}, err
				}
				return p.MoveAfter(id, neighbor)
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "place the item directly above this one")
	cmd.Flags().StringVar(&after, "after", "", "place the item directly below this one")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the list and print it on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := a.listID()
			if err != nil {
				return err
			}

			var lastVersion int64
			err = a.client().Stream(cmd.Context(), listID, func(ev client.Event) error {
				switch ev.Type {
				case "connected":
					fmt.Fprintf(a.out, "Watching %s\n", listID)
				case "state":
					state, err := ev.State()
					if err != nil {
						return fmt.Errorf("malformed state event: %w", err)
					}
					if state.Version == lastVersion {
						return nil
					}
					lastVersion = state.Version
					fmt.Fprintln(a.out)
					renderState(a.out, state)
				}
				return nil
			})
			if err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("stream ended: %w", err)
			}
			fmt.Fprintln(a.out, "Stream closed")
			return nil
		},
	}
}

func (a *app) activityCmd() *cobra.Command {
	var since time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			listID, err := a.listID()
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			entries, err := a.client().Activity(cmd.Context(), listID, from, limit)
			if err != nil {
				return fmt.Errorf("failed to read activity: %w", err)
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No recent activity")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "%s  %-9s  %s\n", formatTime(e.At), e.Kind, e.Text)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only show changes newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (server default when 0)")
	return cmd
}

func (a *app) queueCmd() *cobra.Command {
	var flush bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show edits waiting to be delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.queue(a.client())
			if err != nil {
				return err
			}
			if flush {
				if err := q.Flush(cmd.Context()); err != nil {
					return fmt.Errorf("flush interrupted: %w", err)
				}
			}

			entries := q.Snapshot()
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "Queue is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "%s  %-6s  %-8s  list=%s  attempts=%d/%d  %s\n",
					shortID(e.ID), e.Operation, shortID(e.TargetID), e.ListID, e.RetryCount, e.MaxRetries, e.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flush, "flush", false, "deliver pending edits before printing")
	return cmd
}

// write plans one edit against the current list, queues it and flushes the
// queue, then prints the list as the server returned it.
func (a *app) write(cmd *cobra.Command, plan func(p *client.Planner, items []domain.Item) (client.Edit, error)) error {
	listID, err := a.listID()
	if err != nil {
		return err
	}
	c := a.client()
	ctx := cmd.Context()

	state, err := c.Get(ctx, listID)
	switch {
	case client.IsNotFound(err):
		// The first create on an absent list creates it.
		state = &domain.ListState{ID: listID}
	case err != nil:
		return fmt.Errorf("failed to read list: %w", err)
	}

	gen := rank.NewGenerator(rand.NewSource(time.Now().UnixNano()))
	edit, err := plan(client.NewPlanner(state.Items, gen), state.Items)
	if err != nil {
		return err
	}

	var latest *domain.SyncResponse
	q, err := a.queue(c, client.WithDeliverHandler(func(e domain.QueueEntry, res *domain.SyncResponse) {
		if e.ListID == listID {
			latest = res
		}
	}))
	if err != nil {
		return err
	}
	if _, err := q.Enqueue(listID, edit.Operation, edit.TargetID, edit.Payload); err != nil {
		return fmt.Errorf("failed to queue edit: %w", err)
	}
	if err := q.Flush(ctx); err != nil {
		return fmt.Errorf("edit queued but not delivered: %w", err)
	}

	if latest != nil {
		renderState(a.out, &domain.ListState{
			ID:           listID,
			Items:        latest.Items,
			LastModified: latest.LastModified,
			Version:      latest.Version,
		})
	}
	return nil
}

// resolveID accepts a full item id or an unambiguous prefix of one.
func resolveID(items []domain.Item, ref string) (string, error) {
	var match string
	for _, it := range items {
		if it.ID == ref {
			return it.ID, nil
		}
		if strings.HasPrefix(it.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("item reference %q is ambiguous", ref)
			}
			match = it.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", client.ErrUnknownItem, ref)
	}
	return match, nil
}
