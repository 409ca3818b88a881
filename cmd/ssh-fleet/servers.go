package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"ssh-fleet/internal/config"
	"ssh-fleet/internal/filter"
	"ssh-fleet/internal/inventory"
	"ssh-fleet/internal/output"
	"ssh-fleet/internal/target"
)

// serverFlags select the servers a command runs on
type serverFlags struct {
	list      bool
	all       bool
	names     []string
	hosts     string
	hostFile  string
	inventory string
	filter    string
}

func (f *serverFlags) register(fs *pflag.FlagSet, verb string) {
	fs.BoolVar(&f.list, "list-servers", false, "List configured servers and exit")
	fs.BoolVar(&f.all, "all-servers", false, fmt.Sprintf("%s all servers", verb))
	fs.StringSliceVarP(&f.names, "server", "s", nil, fmt.Sprintf("Server names to %s (comma-separated)", strings.ToLower(verb)))
	fs.StringVar(&f.hosts, "hosts", "", "Ad-hoc servers instead of the fleet file (user@host:port?key=path, comma-separated)")
	fs.StringVar(&f.hostFile, "hostfile", "", "File with one host specification per line")
	fs.StringVar(&f.inventory, "inventory", "", "Load servers from an Ansible inventory file")
	fs.StringVar(&f.filter, "filter", "", "Filter servers, e.g. 'tag:web !tag:old property:env=prod host:*.example.com name:web-*'")
}

// fleetSection picks the server map of the fleet file
type fleetSection func(*config.FleetConfig) map[string]config.ServerConfig

func initSection(f *config.FleetConfig) map[string]config.ServerConfig {
	if f.Init == nil {
		return nil
	}
	return f.Init.Server
}

func manageSection(f *config.FleetConfig) map[string]config.ServerConfig {
	if f.Manage == nil {
		return nil
	}
	return f.Manage.Server
}

// servers loads the candidate servers: ad-hoc sources when given, the
// fleet file section otherwise, narrowed by --filter
func (a *app) servers(f *serverFlags, fleet *config.FleetConfig, section fleetSection) (map[string]target.Target, error) {
	servers := make(map[string]target.Target)
	merge := func(source string, m map[string]target.Target) {
		a.logger.LogTargetParsing(source, len(m))
		for name, t := range m {
			servers[name] = t
		}
	}

	if f.hosts != "" {
		m, err := target.ParseHosts(f.hosts)
		if err != nil {
			return nil, setupErrorf("failed to parse hosts: %v", err)
		}
		merge("CLI hosts parameter", m)
	}
	if f.hostFile != "" {
		m, err := target.ParseHostFile(f.hostFile)
		if err != nil {
			return nil, setupErrorf("failed to parse host file: %v", err)
		}
		merge("host file: "+f.hostFile, m)
	}
	if f.inventory != "" {
		m, err := inventory.Load(f.inventory)
		if err != nil {
			return nil, setupErrorf("failed to load inventory: %v", err)
		}
		merge("inventory file: "+f.inventory, m)
	}

	if len(servers) == 0 && f.hosts == "" && f.hostFile == "" && f.inventory == "" {
		if fleet == nil {
			return nil, setupErrorf("no servers configured")
		}
		m, err := config.Targets(section(fleet))
		if err != nil {
			return nil, setupErrorf("%v", err)
		}
		merge("fleet file: "+a.fleetFile, m)
	}
	if len(servers) == 0 {
		return nil, setupErrorf("no servers configured")
	}

	if f.filter != "" {
		filters, err := filter.Parse(f.filter)
		if err != nil {
			return nil, setupErrorf("failed to parse filter expression: %v", err)
		}
		before := len(servers)
		servers = filter.Apply(servers, filters...)
		a.logger.Info("Applied filters", "original_count", before, "filtered_count", len(servers), "filter", f.filter)
		if len(servers) == 0 {
			return nil, setupErrorf("no servers match filter '%s'", f.filter)
		}
	}
	return servers, nil
}

// tasks turns the selected servers into tasks. --filter without --server
// selects every matching server.
func (a *app) tasks(f *serverFlags, servers map[string]target.Target, verb string) ([]target.Task, error) {
	prompter := target.NewTerminalPrompter()

	var tasks []target.Task
	var err error
	switch {
	case f.all || (f.filter != "" && len(f.names) == 0):
		tasks, err = target.BuildTasks(servers, prompter)
	case len(f.names) > 0:
		tasks, err = target.SelectTasks(servers, f.names, prompter)
	default:
		return nil, setupErrorf("no servers specified. Use --server to specify servers or --all-servers to %s all servers", verb)
	}
	if err != nil {
		return nil, setupErrorf("%v", err)
	}
	return tasks, nil
}

// loadFleet reads the fleet file once. A missing file is not an error when
// servers come from another source.
func (a *app) loadFleet(f *serverFlags) (*config.FleetConfig, error) {
	if a.fleet != nil {
		return a.fleet, nil
	}
	fleet, err := config.LoadFleet(a.fleetFile)
	if err != nil {
		if f != nil && (f.hosts != "" || f.hostFile != "" || f.inventory != "") {
			a.logger.Debug("Fleet file not loaded", "path", a.fleetFile, "error", err)
			return nil, nil
		}
		a.logger.LogConfigError(a.fleetFile, err)
		return nil, setupErrorf("failed to load fleet file: %v", err)
	}
	a.logger.LogConfigLoad(a.fleetFile)
	a.fleet = fleet
	return fleet, nil
}

func (a *app) listServers(title string, servers map[string]target.Target) {
	fmt.Fprintln(a.out, title)
	output.ListServers(a.out, servers)
}

// listGroups prints servers bucketed by a property or tag
func (a *app) listGroups(groupBy string, servers map[string]target.Target) {
	groups := filter.Group(servers, groupBy)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(a.out, "Servers grouped by %s (%d groups):\n", groupBy, len(groups))
	for _, k := range keys {
		fmt.Fprintf(a.out, "\n=== Group: %s (%d servers) ===\n", k, len(groups[k]))
		subset := make(map[string]target.Target, len(groups[k]))
		for _, name := range groups[k] {
			subset[name] = servers[name]
		}
		output.ListServers(a.out, subset)
	}
}
