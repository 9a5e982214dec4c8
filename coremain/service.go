package coremain

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var svcCfg = &service.Config{
	Name:        "searchx",
	DisplayName: "searchx",
	Description: "A lookup dispatch and cache service.",
}

var svc service.Service

type serverService struct {
	f *serverFlags
}

func (ss *serverService) Start(s service.Service) error {
	go func() {
		if err := StartServer(ss.f); err != nil {
			s.Stop()
		}
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	return nil
}

func initService(cmd *cobra.Command, args []string) error {
	s, err := service.New(&serverService{}, svcCfg)
	if err != nil {
		return fmt.Errorf("failed to init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	var cfgFile string
	c := &cobra.Command{
		Use:   "install [-c config_file]",
		Short: "Install searchx as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcArgs := []string{"serve", "--as-service"}
			if len(cfgFile) > 0 {
				svcArgs = append(svcArgs, "-c", cfgFile)
			}
			svcCfg.Arguments = svcArgs
			s, err := service.New(&serverService{}, svcCfg)
			if err != nil {
				return fmt.Errorf("failed to init service, %w", err)
			}
			return s.Install()
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&cfgFile, "config", "c", "", "config file")
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "uninstall",
		Short:        "Uninstall the searchx service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Uninstall() },
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "start",
		Short:        "Start the searchx service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Start() },
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "stop",
		Short:        "Stop the searchx service.",
		RunE:         func(cmd *cobra.Command, args []string) error { return svc.Stop() },
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the searchx service status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := svc.Status()
			if err != nil {
				return err
			}
			switch st {
			case service.StatusRunning:
				fmt.Println("running")
			case service.StatusStopped:
				fmt.Println("stopped")
			default:
				fmt.Println("unknown")
			}
			return nil
		},
		SilenceUsage: true,
	}
}
