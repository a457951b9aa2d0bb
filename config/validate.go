package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the cross references between config sections.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	for _, db := range cfg.Redis.Databases {
		if _, ok := cfg.RedisServerByName(db.Server); !ok {
			return fmt.Errorf("redis database %q references server %q: %w", db.Name, db.Server, ErrMissingServerConfig)
		}
	}

	if err := uniqueNames("redis database", redisDatabaseNames(cfg.Redis.Databases)); err != nil {
		return err
	}
	if err := uniqueNames("database server", databaseServerNames(cfg.Database.Servers)); err != nil {
		return err
	}
	if err := uniqueNames("job list", jobListNames(cfg.Queue.JobLists)); err != nil {
		return err
	}
	for path, table := range cfg.Queue.ExtraJobLists {
		for _, jl := range table {
			if err := validate.Struct(jl); err != nil {
				return fmt.Errorf("queue.extra_job_lists.%s: %w", path, formatValidationError(err))
			}
		}
		if err := uniqueNames("job list in "+path, jobListNames(table)); err != nil {
			return err
		}
	}

	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func uniqueNames(kind string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate %s %q", kind, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func redisDatabaseNames(dbs []RedisDatabase) []string {
	names := make([]string, len(dbs))
	for i, d := range dbs {
		names[i] = d.Name
	}
	return names
}

func databaseServerNames(servers []DatabaseServer) []string {
	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.Server
	}
	return names
}

func jobListNames(lists []JobList) []string {
	names := make([]string, len(lists))
	for i, jl := range lists {
		names[i] = jl.JobList
	}
	return names
}
