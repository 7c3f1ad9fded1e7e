package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stampede/internal/orchestrator"
)

// newStatusCmd creates the `status` command: print the last persisted swarm
// snapshot.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows the last recorded state of every registered agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := orchestrator.ReadStatus(appConfig.State().Dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No swarm status recorded yet.")
					return nil
				}
				return err
			}

			fmt.Printf("Swarm status as of %s\n\n", status.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Printf("%-20s %-12s %-10s %-10s %s\n", "AGENT", "STATE", "RESTARTS", "HEALTH", "LAST ERROR")
			for _, a := range status.Agents {
				healthState := "-"
				if a.Health != nil {
					healthState = a.Health.State.String()
				}
				fmt.Printf("%-20s %-12s %-10d %-10s %s\n", a.Name, a.State, a.Restarts, healthState, a.LastError)
			}
			return nil
		},
	}
}
