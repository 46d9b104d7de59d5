package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/fidolock/internal/client/escrow"
	"github.com/dmitrijs2005/fidolock/internal/filex"
	"github.com/dmitrijs2005/fidolock/internal/volume/luksvol"
)

// retryTransient runs op through a short exponential backoff, retrying only
// when the escrow service is unreachable. A rebooting server should not
// fail a sync; a rejected request should fail it immediately.
func retryTransient(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, escrow.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (a *App) cmdEscrowLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("escrow-login", flag.ContinueOnError)
	joinToken := fs.String("j", "", "join token issued by the operator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token := *joinToken
	if token == "" {
		t, err := GetSimpleText(a.reader, "Enter the join token", a.out)
		if err != nil {
			return err
		}
		token = t
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var agentID string
	err = retryTransient(ctx, func(ctx context.Context) error {
		var jerr error
		agentID, jerr = a.escrow.Join(ctx, token, hostname)
		return jerr
	})
	if err != nil {
		return fmt.Errorf("escrow join: %w", err)
	}

	if err := a.inventory.SetMeta(ctx, metaAgentID, []byte(agentID)); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Joined the escrow service as agent %s\n", agentID)
	return nil
}

func (a *App) cmdEscrowSync(ctx context.Context, args []string) error {
	items, err := a.inventory.ListUnsynced(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "nothing to sync")
		return nil
	}

	var failed int
	for _, e := range items {
		err := retryTransient(ctx, func(ctx context.Context) error {
			return a.escrow.PushRecord(ctx, e.VolumeUUID, e.Node, e.Record, e.Capsule)
		})
		if err != nil {
			failed++
			fmt.Fprintf(a.out, "push %s slot %d: %v\n", e.VolumeUUID, e.Slot, err)
			continue
		}
		if err := a.inventory.MarkSynced(ctx, e.VolumeUUID, e.Slot); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "pushed %s slot %d\n", e.VolumeUUID, e.Slot)
	}
	if failed > 0 {
		return fmt.Errorf("%d record(s) failed to sync", failed)
	}
	return nil
}

func (a *App) cmdBackup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	node := fs.String("n", "", "volume node")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *node == "" {
		return errors.New("backup: -n flag is required")
	}

	// read the image while holding the header lock, so it is not torn
	vol, err := luksvol.Open(*node)
	if err != nil {
		return err
	}
	uuid := vol.UUID()
	header, err := os.ReadFile(*node)
	vol.Close()
	if err != nil {
		return err
	}

	err = retryTransient(ctx, func(ctx context.Context) error {
		return a.escrow.UploadBackup(ctx, uuid, header)
	})
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	fmt.Fprintf(a.out, "Header image for %s uploaded (%d bytes)\n", uuid, len(header))
	return nil
}

func (a *App) cmdRestore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	uuid := fs.String("u", "", "volume uuid")
	outPath := fs.String("o", "", "file to write the header image to")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *uuid == "" || *outPath == "" {
		return errors.New("restore: -u and -o flags are required")
	}

	if !*force {
		if _, err := os.Stat(*outPath); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", *outPath)
		}
	}

	var data []byte
	err := retryTransient(ctx, func(ctx context.Context) error {
		var derr error
		data, derr = a.escrow.DownloadBackup(ctx, *uuid)
		return derr
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if err := filex.WriteFileAtomic(*outPath, data, 0o600); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Header image for %s written to %s (%d bytes)\n", *uuid, *outPath, len(data))
	return nil
}
