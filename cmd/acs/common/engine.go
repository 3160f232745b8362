//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	core "github.com/JoshuaRamirez/ACS-sub003/pkg/core"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/options"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/seed"
)

// NewCliAccessService creates an AccessService configured from CLI
// command flags. The audit stream writes to the --audit-log file when
// given, otherwise to stdout; --seed applies a fixture file after
// startup.
func NewCliAccessService(ctx context.Context, cmd *cli.Command, stdout io.Writer) (core.AccessService, error) {
	var auditOut io.Writer = stdout
	if path := cmd.String("audit-log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- CLI tool intentionally writes user-provided paths
		if err != nil {
			return nil, err
		}
		auditOut = f
	}

	svc, err := core.NewAccessService(ctx,
		options.WithAuditStream(audit.NewIoWriterFactory(auditOut)),
		options.WithRepositoryType(cmd.String("repository")))
	if err != nil {
		return nil, err
	}

	if path := cmd.String("seed"); path != "" {
		doc, err := seed.Load(path)
		if err != nil {
			_ = svc.Stop(ctx)
			return nil, err
		}
		if _, err := seed.Apply(ctx, svc, doc); err != nil {
			_ = svc.Stop(ctx)
			return nil, err
		}
	}

	return svc, nil
}
