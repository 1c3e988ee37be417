//go:build mage

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main contains Mage build targets for evidence-engine developer tooling.
package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories the engine expects.
var projectDirs = []string{
	"data",
	".secrets",
	"exports",
}

// Init creates the data and secrets directories.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "evidence-engine"
	cmdPkg  = "./cmd/evidence-engine"
)

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+version, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs vet and the race-enabled test suite.
func Test() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// DryRun builds the CLI and answers a sample question with the scripted model.
func DryRun() error {
	mg.Deps(Init, Build)
	return sh.RunV(filepath.Join(binDir, binName), "ask", "--dry-run", "deep research: omega-3 and heart health")
}

// Stats prints non-blank Go lines per package, split into production and
// test code, followed by the word count of the Markdown and YAML docs.
func Stats() error {
	pkgs := map[string]*lineCount{}
	docWords := 0
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && strings.ContainsAny(d.Name()[:1], "._") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".go":
			n, err := nonBlankLines(path)
			if err != nil {
				return err
			}
			c := pkgs[filepath.Dir(path)]
			if c == nil {
				c = &lineCount{}
				pkgs[filepath.Dir(path)] = c
			}
			if strings.HasSuffix(path, "_test.go") {
				c.test += n
			} else {
				c.prod += n
			}
		case ".md", ".yaml", ".yml":
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			docWords += len(strings.Fields(string(data)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(pkgs))
	for dir := range pkgs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var total lineCount
	fmt.Printf("%-28s %8s %8s\n", "package", "prod", "test")
	for _, dir := range dirs {
		c := pkgs[dir]
		total.prod += c.prod
		total.test += c.test
		fmt.Printf("%-28s %8d %8d\n", dir, c.prod, c.test)
	}
	fmt.Printf("%-28s %8d %8d\n", "total", total.prod, total.test)
	fmt.Printf("\nWords (documentation): %d\n", docWords)
	return nil
}

type lineCount struct{ prod, test int }

func nonBlankLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}
