package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jpsweeney97/phaser/internal/auditparser"
	"github.com/jpsweeney97/phaser/internal/formatter"
	"github.com/jpsweeney97/phaser/internal/manifest"
	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/store"
	"github.com/jpsweeney97/phaser/internal/types"
)

var prepareForce bool

var prepareCmd = &cobra.Command{
	Use:   "prepare <file>",
	Short: "Split an audit document into phase files and prepare the workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, root, err := openStore()
		if err != nil {
			return err
		}
		audit, phasesDir, err := prepareAudit(s, root, args[0], prepareForce)
		if err != nil {
			return err
		}
		fmt.Printf("prepared %d phase(s) for audit %s (%s)\n", len(audit.Phases), audit.ID, phasesDir)
		return nil
	},
}

// prepareAudit parses file, writes one Markdown file per phase under
// "<slug>-phases/", captures the baseline manifest, and persists a new
// pending Audit record. It is shared by `prepare` and `execute`.
func prepareAudit(s *store.Store, root, file string, force bool) (*types.Audit, string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, "", phaserr.Wrap(phaserr.Usage, err)
	}
	result := auditparser.Parse(string(data))
	if len(result.Phases) == 0 {
		return nil, "", phaserr.New(phaserr.Validation, "no phases found in %s", file)
	}

	slug := slugify(strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)))
	phasesDir := filepath.Join(root, slug+"-phases")
	if _, err := os.Stat(phasesDir); err == nil && !force {
		return nil, "", phaserr.New(phaserr.Usage, "%s already exists; pass --force to overwrite", phasesDir)
	}
	if err := os.RemoveAll(phasesDir); err != nil {
		return nil, "", phaserr.Wrap(phaserr.Resource, err)
	}
	if err := os.MkdirAll(phasesDir, 0o755); err != nil {
		return nil, "", phaserr.Wrap(phaserr.Resource, err)
	}

	md := formatter.NewMarkdownFormatter()
	for _, p := range result.Phases {
		doc := &formatter.PhaseDocument{
			Title:  fmt.Sprintf("Phase %d: %s", p.Number, p.Title),
			Phases: []types.Phase{p},
		}
		path := filepath.Join(phasesDir, fmt.Sprintf("phase-%02d%s", p.Number, md.Extension()))
		f, err := os.Create(path)
		if err != nil {
			return nil, "", phaserr.Wrap(phaserr.Resource, err)
		}
		err = md.Format(f, doc)
		f.Close()
		if err != nil {
			return nil, "", phaserr.Wrap(phaserr.Internal, err)
		}
	}

	audit := &types.Audit{
		ID:     uuid.NewString(),
		Slug:   slug,
		Title:  slug,
		Source: file,
		Status: types.AuditStatusPending,
		Phases: result.Phases,
	}
	if _, err := s.SaveAudit(audit); err != nil {
		return nil, "", err
	}

	before, err := manifest.Capture(root, manifest.CaptureOptions{})
	if err != nil {
		return nil, "", err
	}
	if err := s.WriteYAML(before, s.ManifestPath(audit.ID, "pre")...); err != nil {
		return nil, "", err
	}

	return audit, phasesDir, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func init() {
	prepareCmd.Flags().BoolVar(&prepareForce, "force", false, "Overwrite an existing prepared workspace")
	rootCmd.AddCommand(prepareCmd)
}
