package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"runtime"

	_ "modernc.org/sqlite"

	"navrollout.ai/internal/dataset"
	"navrollout.ai/internal/telemetry"
)

// Offline dataset admin: inspect episode datasets and the outcome index
// without starting an engine.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "check":
			checkCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("dataset", flag.ExitOnError)
	dir := fs.String("dataset", "./dataset", "episode dataset directory")
	assets := fs.String("assets", "./assets", "scene asset directory")
	ext := fs.String("ext", ".glb", "mesh file extension")
	_ = fs.Parse(args)

	ds, err := dataset.Load(*dir, *assets, *ext, runtime.NumCPU())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}

	fmt.Printf("%d scenes, %d episodes\n", ds.NumScenes(), ds.NumEpisodes())
	for i := 0; i < ds.NumScenes(); i++ {
		s := uint32(i)
		fmt.Printf("%4d  episodes=%-6d  %s\n", i, len(ds.Episodes(s)), ds.ScenePath(s))
	}
}

// checkCmd loads the dataset and verifies every referenced asset file
// exists on disk.
func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	dir := fs.String("dataset", "./dataset", "episode dataset directory")
	assets := fs.String("assets", "./assets", "scene asset directory")
	ext := fs.String("ext", ".glb", "mesh file extension")
	_ = fs.Parse(args)

	ds, err := dataset.Load(*dir, *assets, *ext, runtime.NumCPU())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}

	missing := 0
	for i := 0; i < ds.NumScenes(); i++ {
		s := uint32(i)
		for _, p := range []string{ds.ScenePath(s), ds.NavmeshPath(s)} {
			if _, err := os.Stat(p); err != nil {
				fmt.Printf("scene %d: missing %s\n", i, p)
				missing++
			}
		}
	}
	if missing > 0 {
		fmt.Fprintf(os.Stderr, "check failed: %d missing files\n", missing)
		os.Exit(1)
	}
	fmt.Printf("ok: %d scenes, %d episodes, all assets present\n", ds.NumScenes(), ds.NumEpisodes())
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", "./data/episodes.db", "episode outcome index path")
	runID := fs.String("run", "", "restrict to one run id (default: all runs)")
	_ = fs.Parse(args)

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	stats, err := telemetry.StatsByScene(db, *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if len(stats) == 0 {
		fmt.Println("no episodes recorded")
		return
	}

	fmt.Printf("%-6s %-10s %-10s %-10s\n", "scene", "episodes", "success", "spl")
	for _, s := range stats {
		fmt.Printf("%-6d %-10d %-10.3f %-10.3f\n", s.Scene, s.Episodes, s.SuccessRate, s.MeanSPL)
	}
}
