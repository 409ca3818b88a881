package main

import (
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	sf := &serverFlags{}
	var section, groupBy string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "📋 List servers, optionally filtered and grouped",
		Long: `List servers from the fleet file or another source.

Examples:
  ssh-fleet list
  ssh-fleet list --section init
  ssh-fleet list --inventory hosts.yml --group-by env
  ssh-fleet list --filter tag:web --group-by tag`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pick := manageSection
			switch section {
			case "manage":
			case "init":
				pick = initSection
			default:
				return setupErrorf("unknown section %q (use manage or init)", section)
			}

			fleet, err := a.loadFleet(sf)
			if err != nil {
				return err
			}
			servers, err := a.servers(sf, fleet, pick)
			if err != nil {
				return err
			}

			if groupBy != "" {
				a.listGroups(groupBy, servers)
				return nil
			}
			a.listServers("📋 Servers:", servers)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&section, "section", "manage", "Fleet file section to list (manage, init)")
	f.StringVar(&groupBy, "group-by", "", "Group by a property value or tag name")
	f.StringVar(&sf.hosts, "hosts", "", "Ad-hoc servers instead of the fleet file")
	f.StringVar(&sf.hostFile, "hostfile", "", "File with one host specification per line")
	f.StringVar(&sf.inventory, "inventory", "", "Load servers from an Ansible inventory file")
	f.StringVar(&sf.filter, "filter", "", "Filter servers")
	return cmd
}
