//
//  Copyright © Manetu Inc. All rights reserved.
//

package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

// Execute runs the verify command: it loads an exported audit trail
// (JSON, as produced by the export endpoint) and checks the hash chain,
// reporting every integrity issue found.
func Execute(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("file")

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var records []model.AuditRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing audit export: %w", err)
	}

	engine := audit.NewEngine("")
	engine.Restore(records)

	issues := engine.Validate()
	if len(issues) == 0 {
		fmt.Printf("OK: %d records, hash chain intact\n", len(records))
		return nil
	}

	for _, issue := range issues {
		fmt.Printf("%s at record %d: %s\n", issue.Kind, issue.ID, issue.Message)
	}
	return fmt.Errorf("%d integrity issues found", len(issues))
}
