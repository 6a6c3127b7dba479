package conf

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// flagKeyAnnotation marks a command line flag with the config key it overrides
const flagKeyAnnotation = "conf_key"

// MapFlag ties the flag name of cmd, local or persistent, to config key
func MapFlag(cmd *cobra.Command, name, key string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if f == nil {
		GetLogger().Warn("cannot map unknown flag", logger.String("flag", name), logger.String("key", key))
		return
	}
	if f.Annotations == nil {
		f.Annotations = map[string][]string{}
	}
	f.Annotations[flagKeyAnnotation] = []string{key}
}

// BindFlags binds the mapped flags of the executing command, including the
// persistent flags it inherits, so set flags take precedence in Load.
func BindFlags(cmd *cobra.Command) error {
	var errs []error
	bind := func(f *pflag.Flag) {
		keys, ok := f.Annotations[flagKeyAnnotation]
		if !ok || len(keys) == 0 {
			return
		}
		if err := viper.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, errors.New(err).
				Component(componentConf).
				Category(errors.CategoryConfiguration).
				Context("flag", f.Name).
				Build())
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	return errors.Join(errs...)
}
