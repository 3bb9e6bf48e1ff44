// Package cli implements listctl, a command-line client for shared lists.
// Writes go through the persisted write queue so an edit made while the
// server is unreachable is retried instead of lost.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shared-list-server/internal/client"
	"shared-list-server/internal/domain"
	"shared-list-server/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LISTCTL"

// Config keys. Each is also a persistent flag and a LISTCTL_* variable.
const (
	keyConfig      = "config"
	keyServer      = "server"
	keyList        = "list"
	keyParticipant = "participant"
	keyQueueFile   = "queue-file"
	keyBaseDelay   = "base-delay"
	keyMaxRetries  = "max-retries"
	keyLogLevel    = "log-level"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the listctl command tree with its own config scope.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "listctl",
		Short: "Shared to-do list client",
		Long: `listctl reads and edits shared to-do lists on a list server.

Edits are queued in a local file and delivered in order; a failed delivery is
retried with exponential backoff before it is dropped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.initConfig(cmd.Root().PersistentFlags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "config file (default is $HOME/.config/listctl/config.yaml)")
	flags.String(keyServer, "http://localhost:8080", "list server base URL")
	flags.StringP(keyList, "l", "", "list id")
	flags.StringP(keyParticipant, "p", "", "participant id sent with every request")
	flags.String(keyQueueFile, defaultQueueFile(), "file the write queue is persisted to")
	flags.Duration(keyBaseDelay, client.DefaultBaseDelay, "base delay of the retry backoff")
	flags.Int(keyMaxRetries, client.DefaultMaxRetries, "delivery attempts before an edit is dropped")
	flags.String(keyLogLevel, logging.LevelWarn, "log level for queue diagnostics")

	root.AddCommand(
		a.createCmd(),
		a.showCmd(),
		a.addCmd(),
		a.editCmd(),
		a.doneCmd(),
		a.rmCmd(),
		a.moveCmd(),
		a.watchCmd(),
		a.activityCmd(),
		a.queueCmd(),
	)
	return root
}

func (a *app) initConfig(flags *pflag.FlagSet) error {
	if err := a.v.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if cfgFile := a.v.GetString(keyConfig); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(dir, "listctl"))
		}
		a.v.AddConfigPath(".")
	}

	a.v.SetEnvPrefix(envPrefix)
	// LISTCTL_QUEUE_FILE for queue-file.
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	// A missing config file is fine; a broken one is not.
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func defaultQueueFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "listctl-queue.json"
	}
	return filepath.Join(dir, "listctl", "queue.json")
}

func (a *app) logger() *logging.Logger {
	return logging.NewLogger(a.errOut, a.v.GetString(keyLogLevel), logging.FormatText)
}

func (a *app) client() *client.HTTPClient {
	return client.NewHTTPClient(a.v.GetString(keyServer), a.v.GetString(keyParticipant))
}

// listID returns the target list from --list or LISTCTL_LIST.
func (a *app) listID() (string, error) {
	id := a.v.GetString(keyList)
	if id == "" {
		return "", errors.New("no list given: pass --list or set LISTCTL_LIST")
	}
	return id, nil
}

// queue opens the persisted write queue. Dropped edits are reported on
// stderr so the user knows they did not reach the server.
func (a *app) queue(sender client.Sender, opts ...client.QueueOption) (*client.Queue, error) {
	return client.LoadQueue(a.v.GetString(keyQueueFile), sender, append([]client.QueueOption{
		client.WithBaseDelay(a.v.GetDuration(keyBaseDelay)),
		client.WithMaxRetries(a.v.GetInt(keyMaxRetries)),
		client.WithLogger(a.logger()),
		client.WithDropHandler(func(e domain.QueueEntry, err error) {
			fmt.Fprintf(a.errOut, "edit dropped after %d attempts (%s %s): %v\n",
				e.RetryCount, e.Operation, shortID(e.TargetID), err)
		}),
	}, opts...)...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
