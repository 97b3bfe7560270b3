package internal

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type GlobalOptions struct {
	ConfigFile string `mapstructure:"config-file"`
	Verbosity  int    `mapstructure:"verbosity"`
}

// ParseOptions loads options from command line flags, the environment, and
// an optional config file, in that order of precedence.
func ParseOptions(cmd *cobra.Command, options interface{}) error {
	v := viper.New()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	v.SetConfigName("config")

	v.AddConfigPath("/etc/strongroom")
	v.AddConfigPath("$HOME/.strongroom")
	v.AddConfigPath(".")

	if flag := cmd.Flags().Lookup("config-file"); flag != nil {
		if configFile := flag.Value.String(); configFile != "" {
			v.SetConfigFile(configFile)
		}
	}

	v.SetEnvPrefix("STRONGROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var errConfigFileNotFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &errConfigFileNotFound) {
			return err
		}
	}

	return v.Unmarshal(options)
}
