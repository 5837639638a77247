package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"idbpersist/pkg/idb"
	"idbpersist/pkg/persist"
)

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.factory()
			defer f.Close()
			s, err := opts.storage(f)
			if err != nil {
				return err
			}
			v, err := s.GetItem(args[0])
			if err != nil {
				return err
			}
			if v == nil {
				return fmt.Errorf("%q: %w", args[0], ErrItemNotFound)
			}
			return writeValue(cmd.OutOrStdout(), v, opts.pretty(cmd.OutOrStdout()))
		},
	}
}

func newSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [json]",
		Short: "Store a JSON value, read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 2 {
				raw = []byte(args[1])
			} else {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("value for %q is not valid JSON: %w", args[0], err)
			}

			f := opts.factory()
			defer f.Close()
			s, err := opts.storage(f)
			if err != nil {
				return err
			}
			if err := s.SetItem(args[0], v); err != nil {
				return err
			}
			logger.Debug("stored item", "name", args[0], "bytes", len(raw))
			return nil
		},
	}
}

func newRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"remove"},
		Short:   "Remove stored values",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.factory()
			defer f.Close()
			s, err := opts.storage(f)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := s.RemoveItem(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newKeysCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List stored record names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.factory()
			defer f.Close()
			db, err := persist.OpenDatabase(f, opts.cfg.Database.Name, opts.cfg.Database.Store).Wait()
			if err != nil {
				return err
			}
			tx, err := db.Transaction(idb.ReadOnly, opts.cfg.Database.Store)
			if err != nil {
				return err
			}
			st, err := tx.ObjectStore(opts.cfg.Database.Store)
			if err != nil {
				return err
			}
			keys, err := persist.Promisify[[]string](st.GetAllKeys()).Wait()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newStoresCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List object stores in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.factory()
			defer f.Close()
			db, err := persist.OpenDatabase(f, opts.cfg.Database.Name, opts.cfg.Database.Store).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %d)\n", db.Name(), db.Version())
			for _, name := range db.ObjectStoreNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}
			return nil
		},
	}
}

// jsonable rewrites maps with non-string dynamic keys, which encoding/json
// rejects, into string-keyed objects.
func jsonable(v any) any {
	switch v := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = jsonable(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = jsonable(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = jsonable(e)
		}
		return s
	}
	return v
}

func writeValue(w io.Writer, v any, pretty bool) error {
	var (
		b   []byte
		err error
	)
	v = jsonable(v)
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	_, err = fmt.Fprintln(w, strings.TrimSpace(string(b)))
	return err
}
