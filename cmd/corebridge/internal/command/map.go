package command

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ius/corebridge/abi"
	"github.com/ius/corebridge/machomapper"
)

func newMapCommand() *cobra.Command {
	var searchPaths []string
	var reserveBytes uint64

	cmd := &cobra.Command{
		Use:   "map <dylib>",
		Short: "Map a Mach-O dylib and its dependency tree into this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromFlags()
			defer logger.Sync()

			cpu, err := parseCPUType(v.GetString("arch"))
			if err != nil {
				return err
			}

			target := args[0]
			paths := append([]string{filepath.Dir(target)}, searchPaths...)
			loader := machomapper.DirectoryLoader{SearchPaths: paths}

			task, err := machomapper.Reserve(reserveBytes)
			if err != nil {
				return err
			}

			mapper, err := machomapper.New(filepath.Base(target), task, cpu, loader)
			if err != nil {
				return err
			}

			base := abi.NativePointer(0x1_0000_0000)
			if err := mapper.Map(base); err != nil {
				return err
			}

			logger.Info("mapped image tree",
				zap.String("name", filepath.Base(target)),
				zap.String("base", base.String()),
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&searchPaths, "search-path", nil, "additional directories to search for dependency dylibs")
	cmd.Flags().Uint64Var(&reserveBytes, "reserve", 64<<20, "bytes to reserve for the mapped image tree")

	return cmd
}

func parseCPUType(name string) (machomapper.CPUType, error) {
	switch name {
	case "amd64":
		return machomapper.CPUTypeAMD64, nil
	case "arm64":
		return machomapper.CPUTypeARM64, nil
	default:
		return 0, abi.Newf(abi.Unsupported, "unknown architecture %q (want amd64 or arm64)", name)
	}
}
