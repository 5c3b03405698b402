package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Templates are the built-in scheduler job templates. {seed} stands for
// the array task index.
var Templates = map[string]string{
	"slurm-gpu": `#!/bin/bash
#SBATCH --job-name=seeded-md
#SBATCH --ntasks=1
#SBATCH --gres=gpu:1
#SBATCH --output=slurm-%A_%a.out
mkdir -p snapshot_{seed}
cd snapshot_{seed}`,
	"slurm-cpu": `#!/bin/bash
#SBATCH --job-name=seeded-md
#SBATCH --ntasks=16
#SBATCH --output=slurm-%A_%a.out
mkdir -p snapshot_{seed}
cd snapshot_{seed}`,
	"sge-gpu": `#!/bin/bash
#$ -N seeded-md
#$ -l gpu=1
#$ -j y
mkdir -p snapshot_{seed}
cd snapshot_{seed}`,
}

func GetTemplate(name string) (string, bool) {
	t, ok := Templates[name]
	return t, ok
}

func ListTemplates() []string {
	names := make([]string, 0, len(Templates))
	for name := range Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateLines returns the lines of the configured template: a file when
// the setting names one, otherwise a built-in template.
func (c *Config) TemplateLines() ([]string, error) {
	name := c.Scheduler.Template
	if data, err := os.ReadFile(name); err == nil {
		return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
	}
	t, ok := GetTemplate(name)
	if !ok {
		return nil, fmt.Errorf("unknown template %q (built-in: %s)", name, strings.Join(ListTemplates(), ", "))
	}
	return strings.Split(t, "\n"), nil
}
