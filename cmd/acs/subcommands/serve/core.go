//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/JoshuaRamirez/ACS-sub003/cmd/acs/common"
	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/gateway/rest"
)

var logger = logging.GetLogger("acs")

const agent string = "serve"

// Execute runs the serve command, starting the REST gateway over a
// fully assembled access service and gracefully shutting down on
// interrupt signals.
func Execute(ctx context.Context, cmd *cli.Command) error {
	port := cmd.Int("port")

	svc, err := common.NewCliAccessService(ctx, cmd, os.Stdout)
	if err != nil {
		return err
	}

	server, err := rest.CreateServer(svc, port)
	if err != nil {
		return err
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info(agent, "shutdown", "Shutting down server...")

	if err := server.Stop(ctx); err != nil {
		return err
	}
	if err := svc.Stop(ctx); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "Server exited gracefully.")
	return nil
}
