package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/fidolock/internal/enroll"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

func (a *App) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	all := fs.Bool("all", false, "list the local enrollment inventory instead of one volume")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *all {
		return a.listInventory(ctx)
	}
	if *node == "" {
		return errors.New("list: -n flag is required (or -all)")
	}
	return a.listVolume(*node)
}

func (a *App) listVolume(node string) error {
	vol, err := luksvol.Open(node)
	if err != nil {
		return err
	}
	defer vol.Close()

	fmt.Fprintf(a.out, "Volume %s (%s)\n", vol.UUID(), node)

	tokens := vol.Tokens()
	if len(tokens) == 0 {
		fmt.Fprintln(a.out, "  no enrollments")
		return nil
	}

	ids := make([]int, 0, len(tokens))
	for id := range tokens {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		raw := tokens[id]
		r, err := enroll.ParseRecord(raw)
		if err != nil {
			if errors.Is(err, enroll.ErrNotEnrolled) {
				// recovery tokens and foreign tokens: show type and slots
				var shape struct {
					Type     string   `json:"type"`
					Keyslots []string `json:"keyslots"`
				}
				if jerr := json.Unmarshal(raw, &shape); jerr == nil {
					fmt.Fprintf(a.out, "  token %d: %s, slots %s\n", id, shape.Type, strings.Join(shape.Keyslots, ","))
					continue
				}
			}
			fmt.Fprintf(a.out, "  token %d: %v\n", id, err)
			continue
		}
		fmt.Fprintf(a.out, "  token %d: security key, slots %s, factors %s\n",
			id, strings.Join(r.Keyslots, ","), r.Flags())
	}
	return nil
}

func (a *App) listInventory(ctx context.Context) error {
	items, err := a.inventory.ListEnrollments(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "inventory is empty")
		return nil
	}
	for _, e := range items {
		state := "pending"
		if e.Synced {
			state = "synced"
		}
		fmt.Fprintf(a.out, "%s slot %d: %s on %s, token %d [%s]\n",
			e.VolumeUUID, e.Slot, e.Kind, e.Node, e.TokenID, state)
	}
	return nil
}
