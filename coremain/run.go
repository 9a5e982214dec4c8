package coremain

import (
	"fmt"
	"os"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/openmta/searchx/mlog"
)

type serverFlags struct {
	c         string
	dir       string
	asService bool
}

var rootCmd = &cobra.Command{
	Use: "searchx",
}

func init() {
	sf := new(serverFlags)
	serveCmd := &cobra.Command{
		Use:   "serve [-c config_file] [-d working_dir]",
		Short: "Start the searchx lookup server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				svc, err := service.New(&serverService{f: sf}, svcCfg)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			return StartServer(sf)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(serveCmd)
	fs := serveCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	fs.MarkHidden("as-service")

	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newConfigCmd())

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage searchx as a system service.",
	}
	serviceCmd.PersistentPreRunE = initService
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

func StartServer(sf *serverFlags) error {
	if len(sf.dir) > 0 {
		err := os.Chdir(sf.dir)
		if err != nil {
			return fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, fileUsed, err := loadConfig(sf.c)
	if err != nil {
		return fmt.Errorf("fail to load config, %w", err)
	}
	mlog.L().Info("config loaded", zap.String("file", fileUsed))

	if err := RunServer(cfg); err != nil {
		return fmt.Errorf("searchx exited, %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	var file string
	c := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(file)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config, %w", err)
			}
			cmd.OutOrStdout().Write(out)
			return nil
		},
		SilenceUsage: true,
	}
	c.Flags().StringVarP(&file, "config", "c", "", "config file")
	return c
}
