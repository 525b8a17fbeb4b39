package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate shell completion script for s2ingest.

To load completions:

Bash:
  $ source <(s2ingest completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ s2ingest completion bash > /etc/bash_completion.d/s2ingest
  # macOS:
  $ s2ingest completion bash > $(brew --prefix)/etc/bash_completion.d/s2ingest

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ s2ingest completion zsh > "${fpath[1]}/_s2ingest"

  # For oh-my-zsh users:
  $ mkdir -p ~/.oh-my-zsh/custom/plugins/s2ingest
  $ s2ingest completion zsh > ~/.oh-my-zsh/custom/plugins/s2ingest/_s2ingest
  # Then add 's2ingest' to your plugins array in ~/.zshrc:
  # plugins=(... s2ingest)

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ s2ingest completion fish | source

  # To load completions for each session, execute once:
  $ s2ingest completion fish > ~/.config/fish/completions/s2ingest.fish

PowerShell:
  PS> s2ingest completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> s2ingest completion powershell > s2ingest.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
