package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dosecore/internal/core"
	"dosecore/pkg/domain"
)

func newProtocolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "protocol",
		Aliases: []string{"p"},
		Short:   "Manage dosing protocols",
	}
	cmd.AddCommand(
		newProtocolCreateCmd(a),
		newProtocolEditCmd(a),
		newProtocolIDCmd(a, "validate", "Evaluate a draft against the safety rules", func(c *cobra.Command, svc *core.Service, id string) (any, error) {
			return svc.ValidateDraft(c.Context(), id)
		}),
		newProtocolIDCmd(a, "activate", "Activate a validated draft", func(c *cobra.Command, svc *core.Service, id string) (any, error) {
			return svc.Activate(c.Context(), id)
		}),
		newProtocolIDCmd(a, "complete", "Complete an active protocol", func(c *cobra.Command, svc *core.Service, id string) (any, error) {
			return svc.Complete(c.Context(), id)
		}),
		newProtocolIDCmd(a, "show", "Print one protocol", func(c *cobra.Command, svc *core.Service, id string) (any, error) {
			return svc.Get(c.Context(), id)
		}),
		newProtocolIDCmd(a, "delete", "Delete a draft", func(c *cobra.Command, svc *core.Service, id string) (any, error) {
			if err := svc.Delete(c.Context(), id); err != nil {
				return nil, err
			}
			return map[string]string{"deleted": id}, nil
		}),
		newProtocolDraftCmd(a),
		newProtocolListCmd(a),
	)
	return cmd
}

// readInput returns the JSON document named by --file, or stdin for "-".
func readInput(cmd *cobra.Command) ([]byte, error) {
	path, _ := cmd.Flags().GetString("file")
	switch path {
	case "":
		return nil, nil
	case "-":
		return io.ReadAll(cmd.InOrStdin())
	default:
		// #nosec G304 -- path comes from the operator
		return os.ReadFile(path)
	}
}

func newProtocolCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft from a JSON document",
		Long:  "Create a draft. The JSON document carries name, metadata, peptides and phases; --name overrides the document's name.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			var in core.CreateProtocolInput
			if len(data) > 0 {
				if err := json.Unmarshal(data, &in); err != nil {
					return fmt.Errorf("decode protocol: %w", err)
				}
			}
			if name, _ := cmd.Flags().GetString("name"); strings.TrimSpace(name) != "" {
				in.Name = name
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			draft, err := svc.CreateProtocol(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.writeJSON(draft)
		},
	}
	cmd.Flags().StringP("file", "f", "", "JSON document path, or - for stdin")
	cmd.Flags().StringP("name", "n", "", "Protocol name")
	return cmd
}

func newProtocolEditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a draft",
		Long:  "Edit a draft. Fields present in the JSON document replace the draft's; the draft must be validated again before activation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			name, _ := cmd.Flags().GetString("name")
			if len(data) == 0 && strings.TrimSpace(name) == "" {
				return fmt.Errorf("nothing to edit: pass --file or --name")
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			draft, err := svc.EditDraft(cmd.Context(), args[0], func(p *domain.ProtocolBase) error {
				if len(data) > 0 {
					if err := applyEdit(p, data); err != nil {
						return err
					}
				}
				if strings.TrimSpace(name) != "" {
					p.Name = strings.TrimSpace(name)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.writeJSON(draft)
		},
	}
	cmd.Flags().StringP("file", "f", "", "JSON document path, or - for stdin")
	cmd.Flags().StringP("name", "n", "", "New protocol name")
	return cmd
}

// applyEdit replaces each top-level field present in doc. Fields are decoded
// fresh, so a peptide list in doc fully replaces the draft's instead of
// merging into its existing entries.
func applyEdit(p *domain.ProtocolBase, doc []byte) error {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(doc, &present); err != nil {
		return fmt.Errorf("decode edit: %w", err)
	}
	var patch domain.ProtocolBase
	if err := json.Unmarshal(doc, &patch); err != nil {
		return fmt.Errorf("decode edit: %w", err)
	}
	for key := range present {
		switch key {
		case "name":
			p.Name = patch.Name
		case "metadata":
			p.Metadata = patch.Metadata
		case "peptides":
			p.Peptides = patch.Peptides
		case "phases":
			p.Phases = patch.Phases
		}
	}
	return nil
}

func newProtocolIDCmd(a *app, use, short string, run func(*cobra.Command, *core.Service, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			out, err := run(cmd, svc, args[0])
			if err != nil {
				return err
			}
			return a.writeJSON(out)
		},
	}
}

func newProtocolDraftCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft <id>",
		Short: "Start a new draft from any protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			draft, err := svc.CreateDraftFrom(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			return a.writeJSON(draft)
		},
	}
	cmd.Flags().StringP("name", "n", "", "Name of the new draft (default: source name)")
	return cmd
}

type protocolSummary struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	State     domain.ProtocolState `json:"state"`
	Version   int                  `json:"version"`
	Valid     bool                 `json:"valid"`
	ParentID  string               `json:"parent_id,omitempty"`
	UpdatedAt string               `json:"updated_at"`
}

func newProtocolListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, _ := cmd.Flags().GetString("state")
			parent, _ := cmd.Flags().GetString("parent")
			filter := core.ListFilter{State: domain.ProtocolState(strings.ToLower(state)), ParentID: parent}
			switch filter.State {
			case "", domain.StateDraft, domain.StateActive, domain.StateCompleted:
			default:
				return fmt.Errorf("unknown state %q", state)
			}
			svc, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			records, err := svc.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := make([]protocolSummary, 0, len(records))
			for _, rec := range records {
				base := rec.Base()
				s := protocolSummary{
					ID:        base.ID,
					Name:      base.Name,
					State:     rec.State(),
					Version:   base.Version,
					Valid:     rec.Result().Valid,
					UpdatedAt: base.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
				}
				if base.ParentID != nil {
					s.ParentID = *base.ParentID
				}
				out = append(out, s)
			}
			return a.writeJSON(out)
		},
	}
	cmd.Flags().String("state", "", "Filter by state: draft, active, completed")
	cmd.Flags().String("parent", "", "Only drafts created from this protocol")
	return cmd
}
