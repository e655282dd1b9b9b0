package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Opt is a single command-line option
type Opt struct {
	DestP    interface{} // pointer to the destination
	Flag     string
	Default  interface{}
	Desc     string
	Required bool
}

// Program parses CLI options
type Program struct {
	// Run is invoked by cobra on execute.
	Run func() error
	// Name is the name of the program in help usage.
	Name string
	// Short is the one line help text.
	Short string
	// EnvPrefix prefixes all environment variables. It defaults to the
	// upper-case version of Name.
	EnvPrefix string
	// Opts are the command line/env var options to the program
	Opts []Opt
}

// NewCommand creates a new cobra command to be executed that respects env vars
// and an optional config file.
//
// Options are resolved with the precedence flag > env var > config file >
// default. The config file is read from <PREFIX>_CONFIG_PATH, which may name
// a json, toml or yaml file, or a directory holding a "config" file with one
// of those extensions.
func NewCommand(v *viper.Viper, p *Program) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   p.Name,
		Short: p.Short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return p.Run()
		},
	}

	prefix := p.EnvPrefix
	if prefix == "" {
		prefix = p.Name
	}
	prefix = strings.ToUpper(prefix)

	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := initializeConfig(v, os.Getenv(prefix+"_CONFIG_PATH")); err != nil {
		return nil, err
	}

	if err := BindOptions(v, cmd, prefix, p.Opts); err != nil {
		return nil, err
	}

	return cmd, nil
}

func initializeConfig(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".json", ".toml", ".yaml", ".yml":
		v.SetConfigFile(configPath)
	default:
		v.AddConfigPath(configPath)
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}
	return nil
}

// BindOptions adds opts to the specified command and automatically
// registers those options with viper. prefix is the env var prefix used to
// decide whether a required option is already provided.
func BindOptions(v *viper.Viper, cmd *cobra.Command, prefix string, opts []Opt) error {
	flags := cmd.Flags()
	for _, o := range opts {
		switch destP := o.DestP.(type) {
		case *string:
			var d string
			if o.Default != nil {
				d = o.Default.(string)
			}
			flags.StringVar(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetString(o.Flag)
		case *int:
			var d int
			if o.Default != nil {
				d = o.Default.(int)
			}
			flags.IntVar(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetInt(o.Flag)
		case *int32:
			var d int32
			if o.Default != nil {
				d = int32(toInt64(o.Default))
			}
			flags.Int32Var(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetInt32(o.Flag)
		case *int64:
			var d int64
			if o.Default != nil {
				d = toInt64(o.Default)
			}
			flags.Int64Var(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetInt64(o.Flag)
		case *bool:
			var d bool
			if o.Default != nil {
				d = o.Default.(bool)
			}
			flags.BoolVar(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetBool(o.Flag)
		case *time.Duration:
			var d time.Duration
			if o.Default != nil {
				d = o.Default.(time.Duration)
			}
			flags.DurationVar(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetDuration(o.Flag)
		case *[]string:
			var d []string
			if o.Default != nil {
				d = o.Default.([]string)
			}
			flags.StringSliceVar(destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			*destP = v.GetStringSlice(o.Flag)
		case *zapcore.Level:
			var d zapcore.Level
			if o.Default != nil {
				d = o.Default.(zapcore.Level)
			}
			LevelVar(flags, destP, o.Flag, d, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			if s := v.GetString(o.Flag); s != "" {
				if err := destP.Set(s); err != nil {
					return fmt.Errorf("option %s: %w", o.Flag, err)
				}
			}
		case pflag.Value:
			if o.Default != nil {
				if err := destP.Set(fmt.Sprint(o.Default)); err != nil {
					return fmt.Errorf("option %s: %w", o.Flag, err)
				}
			}
			flags.Var(destP, o.Flag, o.Desc)
			mustBindPFlag(v, o.Flag, flags)
			if s := v.GetString(o.Flag); s != "" {
				if err := destP.Set(s); err != nil {
					return fmt.Errorf("option %s: %w", o.Flag, err)
				}
			}
		default:
			return fmt.Errorf("unknown destination type %T for option %s", o.DestP, o.Flag)
		}

		// a required option satisfied by env or config does not need the flag
		if o.Required && !v.InConfig(o.Flag) && os.Getenv(envName(prefix, o.Flag)) == "" {
			if err := cmd.MarkFlagRequired(o.Flag); err != nil {
				return err
			}
		}
	}
	return nil
}

func envName(prefix, flag string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		panic(fmt.Errorf("unsupported integer default %T", v))
	}
}

func mustBindPFlag(v *viper.Viper, key string, flags *pflag.FlagSet) {
	if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
		panic(err)
	}
}
