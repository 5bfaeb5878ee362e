package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jilio/vstore"
	"github.com/jilio/vstore/codec"
	"github.com/jilio/vstore/persist"
	"github.com/jilio/vstore/storage/sqlite"
)

// State is the generic shape of a persisted store as the CLI sees it.
type State = map[string]any

const actionSet = "vstorectl/set"

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List persisted items",
		Args:    cobra.NoArgs,
		RunE:    a.runList,
	}
}

func (a *app) runList(cmd *cobra.Command, args []string) error {
	storage, err := a.openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	c, err := a.codec()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tUPDATED\tSIZE")
	for item, err := range storage.Items(cmd.Context()) {
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		version := "?"
		if v, err := c.Unmarshal(item.Value); err == nil {
			version = strconv.Itoa(v.Version)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", item.Name, version, item.UpdatedAt.Format(time.RFC3339), len(item.Value))
	}
	return w.Flush()
}

func (a *app) getCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Print a persisted item",
		Long:  `Print the state and version of a persisted item as JSON, or the stored text with --raw.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGet(cmd.Context(), args[0], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the stored text without decoding")
	return cmd
}

func (a *app) runGet(ctx context.Context, name string, raw bool) error {
	storage, err := a.openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	text, found, err := storage.GetItem(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("item %q not found", name)
	}
	if raw {
		_, err := fmt.Fprintln(a.out, text)
		return err
	}

	c, err := a.codec()
	if err != nil {
		return err
	}
	value, err := c.Unmarshal(text)
	if err != nil {
		return fmt.Errorf("decode %q: %w", name, err)
	}
	return printValue(a.out, value)
}

func printValue(w io.Writer, v codec.StorageValue) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func (a *app) setCmd() *cobra.Command {
	var (
		replace bool
		version int
	)
	cmd := &cobra.Command{
		Use:   "set NAME STATE",
		Short: "Merge a JSON object into a persisted item",
		Long: `Merge the top-level keys of the JSON object STATE into the persisted item NAME,
creating it when missing. With --replace the item is overwritten instead.

The item keeps its stored version unless --version is given. Changing the
version of an existing item requires --replace.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v *int
			if cmd.Flags().Changed("version") {
				v = &version
			}
			return a.runSet(cmd.Context(), args[0], args[1], v, replace)
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the stored state instead of merging")
	cmd.Flags().IntVar(&version, "version", 0, "version to write (default: the stored version)")
	return cmd
}

func (a *app) runSet(ctx context.Context, name, state string, version *int, replace bool) error {
	var patch State
	if err := json.Unmarshal([]byte(state), &patch); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	if patch == nil {
		return errors.New("state must be a JSON object")
	}

	storage, err := a.openStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	c, err := a.codec()
	if err != nil {
		return err
	}

	target := 0
	if version != nil {
		target = *version
	} else if target, err = storedVersion(ctx, storage, name, c); err != nil {
		return err
	}

	p, err := persist.New[State](
		persist.WithName[State](name),
		persist.WithStorage[State](storage),
		persist.WithCodec[State](c),
		persist.WithVersion[State](target),
		persist.WithSkipHydration[State](),
		persist.WithLogger[State](a.logger),
	)
	if err != nil {
		return err
	}
	store := vstore.Of(State{}, vstore.WithMiddleware(p.Middleware))

	if err := p.Rehydrate(ctx); err != nil {
		if !errors.Is(err, persist.ErrVersionMismatch) || !replace {
			return fmt.Errorf("%w (use --replace to overwrite)", err)
		}
	}

	opts := []vstore.SetOption{vstore.Action(actionSet)}
	if replace {
		opts = append(opts, vstore.Replace())
	}
	store.SetState(patch, opts...)

	if err := p.Flush(ctx); err != nil {
		return err
	}
	a.logger.Debug("item written", "name", name, "version", target)
	return printValue(a.out, codec.StorageValue{State: store.GetState(), Version: target})
}

// storedVersion returns the version of the stored item, or 0 when there is
// none.
func storedVersion(ctx context.Context, storage *sqlite.Store, name string, c codec.Codec) (int, error) {
	text, found, err := storage.GetItem(ctx, name)
	if err != nil || !found {
		return 0, err
	}
	v, err := c.Unmarshal(text)
	if err != nil {
		return 0, fmt.Errorf("decode %q: %w", name, err)
	}
	return v.Version, nil
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm NAME...",
		Aliases: []string{"remove"},
		Short:   "Remove persisted items",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()

			for _, name := range args {
				if err := storage.RemoveItem(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %s\n", name)
			}
			return nil
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every persisted item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to remove all items without --yes")
			}
			storage, err := a.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()

			var names []string
			for item, err := range storage.Items(cmd.Context()) {
				if err != nil {
					return fmt.Errorf("list items: %w", err)
				}
				names = append(names, item.Name)
			}
			for _, name := range names {
				if err := storage.RemoveItem(cmd.Context(), name); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "removed %d items\n", len(names))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm removing all items")
	return cmd
}
