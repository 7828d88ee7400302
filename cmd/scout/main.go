package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hyphonical/scout/internal/cluster"
	"github.com/hyphonical/scout/internal/config"
	"github.com/hyphonical/scout/internal/embedding"
	"github.com/hyphonical/scout/internal/encoder"
	"github.com/hyphonical/scout/internal/indexer"
	"github.com/hyphonical/scout/internal/outlier"
	"github.com/hyphonical/scout/internal/runtime"
	"github.com/hyphonical/scout/internal/scanner"
	"github.com/hyphonical/scout/internal/search"
	"github.com/hyphonical/scout/internal/sidecar"
	"github.com/hyphonical/scout/internal/video"
	"github.com/hyphonical/scout/internal/watcher"
)

func main() {
	var (
		provider   string
		modelDir   string
		ffmpegPath string
		verbose    bool
		recursive  bool
	)

	fileDefaults := loadFileDefaults()

	root := &cobra.Command{
		Use:   "scout",
		Short: "Local semantic search over images and video",
		Long:  "scout — offline semantic media search backed by content-addressed embeddings.",
	}
	root.PersistentFlags().StringVar(&provider, "provider", orDefault(fileDefaults.Provider, "auto"), "execution provider: auto, cpu, cuda, tensorrt, coreml, xnnpack")
	root.PersistentFlags().StringVar(&modelDir, "model-dir", orDefault(fileDefaults.ModelDir, resolveModelDir()), "directory containing vision.onnx, text.onnx, tokenizer.json")
	root.PersistentFlags().StringVar(&ffmpegPath, "ffmpeg-path", fileDefaults.FfmpegPath, "path to the ffmpeg binary (empty = search PATH)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&recursive, "recursive", false, "recurse into subdirectories")

	newLog := func() *config.Logger { return config.NewLogger(verbose) }
	parseProvider := func() config.Provider {
		p, err := config.ParseProvider(provider)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v, using auto\n", err)
			return config.ProviderAuto
		}
		return p
	}
	numThreads := fileDefaults.Threads
	ffprobePath := func() string {
		if ffmpegPath == "" {
			return ""
		}
		return filepath.Join(filepath.Dir(ffmpegPath), "ffprobe")
	}

	// ---- scout scan ---------------------------------------------------
	var (
		scanDir       string
		scanForce     bool
		minResolution int
		maxSizeMB     float64
		excludeVideos bool
		maxFrames     int
		sceneThresh   float64
	)
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a directory and index new or changed media",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			if err := runtime.Init(""); err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}

			res, err := scanner.Scan(scanner.Options{
				Root:          scanDir,
				Recursive:     recursive,
				Force:         scanForce,
				MinResolution: minResolution,
				MaxSizeMB:     maxSizeMB,
				ExcludeVideos: excludeVideos,
			})
			if err != nil {
				return err
			}
			log.Infof("to process: %d, already indexed: %d, outdated: %d, filtered: %d",
				len(res.ToProcess), len(res.AlreadyIndexed), len(res.Outdated), len(res.Filtered))

			models := &indexer.Models{Vision: encoder.NewVision(modelDir), Text: encoder.NewText()}
			defer models.Vision.Close()
			defer models.Text.Close()

			opts := indexer.Options{
				ModelDir: modelDir, FfmpegPath: ffmpegPath, FfprobePath: ffprobePath(),
				Provider: parseProvider(), NumThreads: numThreads,
				MaxFrames: maxFrames, SceneThresh: sceneThresh, Log: log,
			}
			toProcess := res.ToProcess
			summary := indexer.IndexAll(models, toProcess, opts)
			for _, e := range summary.Errors {
				log.Warnf("%v", e)
			}
			log.Infof("indexed %d files (%d errors)", summary.Indexed, len(summary.Errors))
			if len(summary.Errors) > 0 && summary.Indexed == 0 {
				return fmt.Errorf("scan: all %d files failed to index", len(summary.Errors))
			}
			return nil
		},
	}
	scanCmd.Flags().StringVar(&scanDir, "dir", ".", "directory to scan")
	scanCmd.Flags().BoolVar(&scanForce, "force", false, "reprocess files even if already indexed")
	scanCmd.Flags().IntVar(&minResolution, "min-resolution", 0, "skip images whose shortest side is below this many pixels")
	scanCmd.Flags().Float64Var(&maxSizeMB, "max-size", 0, "skip files larger than this many megabytes")
	scanCmd.Flags().BoolVar(&excludeVideos, "exclude-videos", false, "skip video files")
	scanCmd.Flags().IntVar(&maxFrames, "max-frames", 8, "maximum frames sampled per video")
	scanCmd.Flags().Float64Var(&sceneThresh, "scene-threshold", video.DefaultSceneThreshold, "scene-change sensitivity in [0,1]")
	root.AddCommand(scanCmd)

	// ---- scout search ---------------------------------------------------
	var (
		searchImage    string
		searchWeight   float64
		searchNegative string
		searchDir      string
		searchLimit    int
		searchScore    float64
		searchOpen     bool
		includeRef     bool
		searchExclVid  bool
		searchPaths    bool
		searchExport   string
	)
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed media by text and/or reference image",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			if err := runtime.Init(""); err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}
			var queryText string
			if len(args) > 0 {
				queryText = strings.Join(args, " ")
			}
			if queryText == "" && searchImage == "" {
				return fmt.Errorf("search: provide a text query, --image, or both")
			}

			prov := parseProvider()
			textEnc := encoder.NewText()
			defer textEnc.Close()
			visionEnc := encoder.NewVision(modelDir)
			defer visionEnc.Close()

			var textEmb, imageEmb, negativeEmb *embedding.Embedding
			if queryText != "" {
				e, err := textEnc.Embed(queryText, modelDir, prov, log, numThreads)
				if err != nil {
					return err
				}
				textEmb = &e
			}
			if searchImage != "" {
				img, err := decodeImageFile(searchImage)
				if err != nil {
					return fmt.Errorf("reference image: %w", err)
				}
				e, err := visionEnc.Embed(img, modelDir, prov, log, numThreads)
				if err != nil {
					return err
				}
				imageEmb = &e
			}
			if searchNegative != "" {
				e, err := textEnc.Embed(searchNegative, modelDir, prov, log, numThreads)
				if err != nil {
					return err
				}
				negativeEmb = &e
			}

			q, err := search.BuildQuery(textEmb, imageEmb, searchWeight, negativeEmb)
			if err != nil {
				return err
			}

			sidecars, dirs, err := loadAllSidecars(searchDir, recursive)
			if err != nil {
				return err
			}

			refPath := ""
			if searchImage != "" {
				refPath, _ = filepath.Abs(searchImage)
			}
			results := search.Run(search.Query{
				Vector:       q,
				Negative:     negativeEmb,
				MinScore:     searchScore,
				Limit:        searchLimit,
				IncludeRef:   includeRef,
				ExcludeVideo: searchExclVid,
				RefPath:      refPath,
			}, sidecars, dirs)

			return emitSearchResults(results, searchPaths, searchExport, searchOpen)
		},
	}
	searchCmd.Flags().StringVar(&searchImage, "image", "", "reference image to search by")
	searchCmd.Flags().Float64Var(&searchWeight, "weight", 0.5, "text/image blend weight in [0,1]")
	searchCmd.Flags().StringVar(&searchNegative, "not", "", "negative text query subtracted from the score")
	searchCmd.Flags().StringVar(&searchDir, "dir", ".", "directory to search")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchScore, "score", 0.0, "minimum score to include a result")
	searchCmd.Flags().BoolVar(&searchOpen, "open", false, "open the top result with the OS file opener")
	searchCmd.Flags().BoolVar(&includeRef, "include-ref", false, "include the reference image in results")
	searchCmd.Flags().BoolVar(&searchExclVid, "exclude-videos", false, "exclude video results")
	searchCmd.Flags().BoolVar(&searchPaths, "paths", false, "print only file paths")
	searchCmd.Flags().StringVar(&searchExport, "export", "", "write results as JSON to file, or - for stdout")
	root.AddCommand(searchCmd)

	// ---- scout cluster ---------------------------------------------------
	var (
		clusterDir       string
		minClusterSize   int
		minSamples       int
		cohesionThresh   float64
		useUMAP          bool
		umapNeighbors    int
		umapComponents   int
		previewCount     int
		clusterForce     bool
		clusterExport    string
	)
	clusterCmd := &cobra.Command{
		Use:   "cluster",
		Short: "Group visually similar media into clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			sidecars, _, err := loadAllSidecars(clusterDir, recursive)
			if err != nil {
				return err
			}
			items := make([]cluster.Item, len(sidecars))
			filenameByHash := make(map[string]string, len(sidecars))
			for i, s := range sidecars {
				items[i] = cluster.Item{Hash: string(s.Hash), Embedding: s.PrimaryEmbedding()}
				filenameByHash[string(s.Hash)] = s.Filename
			}

			params := cluster.Params{
				MinClusterSize: minClusterSize,
				CohesionThresh: cohesionThresh,
				UseUMAP:        useUMAP,
				UMAPNeighbors:  umapNeighbors,
				UMAPComponents: umapComponents,
			}
			if minSamples > 0 {
				params.MinSamples = &minSamples
			}

			cachePath := filepath.Join(clusterDir, sidecar.DirName, "clusters.msgpack")

			db, err := cluster.Run(items, params, cluster.NewReducer(), cluster.NewDensifier(), time.Now())
			if err != nil {
				return err
			}

			if !clusterForce {
				if data, err := os.ReadFile(cachePath); err == nil {
					if cached, err := cluster.Load(data); err == nil && cluster.Valid(cached, params, db.ContentHash) {
						db = cached
					}
				}
			}

			if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err == nil {
				if data, err := cluster.Marshal(db); err == nil {
					_ = os.WriteFile(cachePath, data, 0o644)
				}
			}

			for i, c := range db.Clusters {
				if previewCount > 0 && i >= previewCount {
					break
				}
				fmt.Printf("cluster %d: %d members, cohesion=%.3f, representative=%s\n", c.ID, len(c.Hashes), c.Cohesion, c.RepresentativeHash)
				shown := c.Hashes
				if previewCount > 0 && len(shown) > previewCount {
					shown = shown[:previewCount]
				}
				for _, h := range shown {
					name := filenameByHash[h]
					if name == "" {
						name = h
					}
					fmt.Printf("    %s\n", name)
				}
			}
			fmt.Printf("%d clusters, %d noise, %d total\n", len(db.Clusters), len(db.Noise), db.TotalImages)

			return exportJSON(clusterExport, db)
		},
	}
	clusterCmd.Flags().StringVar(&clusterDir, "dir", ".", "directory to cluster")
	clusterCmd.Flags().IntVar(&minClusterSize, "min-cluster-size", 3, "minimum members for a cluster")
	clusterCmd.Flags().IntVar(&minSamples, "min-samples", 0, "HDBSCAN min_samples override (0 = unset)")
	clusterCmd.Flags().Float64Var(&cohesionThresh, "cohesion-threshold", 0.0, "minimum cohesion to keep a cluster")
	clusterCmd.Flags().BoolVar(&useUMAP, "use-umap", false, "reduce dimensionality before clustering")
	clusterCmd.Flags().IntVar(&umapNeighbors, "umap-neighbors", 15, "UMAP neighbor count")
	clusterCmd.Flags().IntVar(&umapComponents, "umap-components", 2, "UMAP output dimensionality")
	clusterCmd.Flags().IntVar(&previewCount, "preview-count", 5, "number of clusters printed, and of member filenames listed per cluster (0 = all)")
	clusterCmd.Flags().BoolVar(&clusterForce, "force", false, "ignore the cluster cache")
	clusterCmd.Flags().StringVar(&clusterExport, "export", "", "write the cluster database as JSON to file, or - for stdout")
	root.AddCommand(clusterCmd)

	// ---- scout outliers ---------------------------------------------------
	var (
		outlierDir    string
		outlierLimit  int
		outlierK      int
		outlierExport string
	)
	outliersCmd := &cobra.Command{
		Use:   "outliers",
		Short: "Rank media by Local Outlier Factor",
		RunE: func(cmd *cobra.Command, args []string) error {
			sidecars, dirs, err := loadAllSidecars(outlierDir, recursive)
			if err != nil {
				return err
			}
			items := make([]outlier.Item, len(sidecars))
			for i, s := range sidecars {
				items[i] = outlier.Item{Path: filepath.Join(dirs[i], s.Filename), Embedding: s.PrimaryEmbedding()}
			}
			results, err := outlier.Compute(items, outlierK, outlierLimit)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.4f  %s\n", r.LOF, r.Path)
			}
			return exportJSON(outlierExport, results)
		},
	}
	outliersCmd.Flags().StringVar(&outlierDir, "dir", ".", "directory to analyze")
	outliersCmd.Flags().IntVar(&outlierLimit, "limit", 20, "maximum number of outliers to report")
	outliersCmd.Flags().IntVarP(&outlierK, "neighbors", "k", 10, "neighbor count for LOF")
	outliersCmd.Flags().StringVar(&outlierExport, "export", "", "write results as JSON to file, or - for stdout")
	root.AddCommand(outliersCmd)

	// ---- scout watch ---------------------------------------------------
	var (
		watchDir     string
		watchMaxSize float64
		watchMinRes  int
	)
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and index new or changed media as it appears",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			if err := runtime.Init(""); err != nil {
				return fmt.Errorf("initialize runtime: %w", err)
			}
			models := &indexer.Models{Vision: encoder.NewVision(modelDir), Text: encoder.NewText()}
			defer models.Vision.Close()
			defer models.Text.Close()

			idxOpts := indexer.Options{
				ModelDir: modelDir, FfmpegPath: ffmpegPath, FfprobePath: ffprobePath(),
				Provider: parseProvider(), NumThreads: numThreads,
				MaxFrames: 8, SceneThresh: 0, Log: log,
			}
			filter := scanner.Options{MaxSizeMB: watchMaxSize, MinResolution: watchMinRes}

			w, err := watcher.New(watchDir, recursive, filter, models, idxOpts, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			done := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(done)
			}()

			log.Infof("watching %s (Ctrl+C to stop)", watchDir)
			return w.Run(done)
		},
	}
	watchCmd.Flags().StringVar(&watchDir, "dir", ".", "directory to watch")
	watchCmd.Flags().Float64Var(&watchMaxSize, "max-size", 0, "skip files larger than this many megabytes")
	watchCmd.Flags().IntVar(&watchMinRes, "min-resolution", 0, "skip images below this shortest-side resolution")
	root.AddCommand(watchCmd)

	// ---- scout clean ---------------------------------------------------
	var cleanDir string
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove sidecars whose source file no longer exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			located, err := sidecar.Scan(cleanDir, recursive)
			if err != nil {
				return err
			}
			removed := 0
			for _, loc := range located {
				s, err := sidecar.Load(loc.SidecarPath)
				if err != nil {
					continue
				}
				if _, ok := sidecar.FindFileByHash(loc.MediaDir, s.Hash); ok {
					continue
				}
				if err := os.Remove(loc.SidecarPath); err == nil {
					removed++
				}
			}
			fmt.Printf("removed %d orphaned sidecars\n", removed)
			return nil
		},
	}
	cleanCmd.Flags().StringVar(&cleanDir, "dir", ".", "directory to clean")
	root.AddCommand(cleanCmd)

	// ---- scout bench ---------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Benchmark encoder inference speed and report the negotiated execution provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLog()
			if err := runtime.Init(""); err != nil {
				return err
			}
			prov := parseProvider()
			textEnc := encoder.NewText()
			defer textEnc.Close()

			t0 := time.Now()
			if _, err := textEnc.Embed("the quick brown fox jumps over the lazy dog", modelDir, prov, log, numThreads); err != nil {
				return err
			}
			elapsed := time.Since(t0)
			fmt.Printf("provider: %s\n", runtime.SelectedProvider())
			fmt.Printf("text embed latency: %s\n", elapsed.Round(time.Millisecond))
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func loadFileDefaults() config.FileDefaults {
	var fd config.FileDefaults
	data, err := os.ReadFile(".scout.toml")
	if err != nil {
		return fd
	}
	if err := toml.Unmarshal(data, &fd); err != nil {
		return fd
	}
	return fd
}

// resolveModelDir honors SCOUT_MODELS_DIR, then walks up to 5 directories
// above the executable looking for a models/ directory, per base spec §6.
func resolveModelDir() string {
	if v := os.Getenv("SCOUT_MODELS_DIR"); v != "" {
		return v
	}
	exe, err := os.Executable()
	if err != nil {
		return "models"
	}
	dir := filepath.Dir(exe)
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, "models")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "models"
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// loadAllSidecars discovers and loads every sidecar under root, returning
// parallel slices of sidecar and owning media directory.
func loadAllSidecars(root string, recursive bool) ([]sidecar.Sidecar, []string, error) {
	located, err := sidecar.Scan(root, recursive)
	if err != nil {
		return nil, nil, err
	}
	var sidecars []sidecar.Sidecar
	var dirs []string
	for _, loc := range located {
		s, err := sidecar.Load(loc.SidecarPath)
		if err != nil {
			// corrupt sidecar: skip with a warning (base spec §7)
			fmt.Fprintf(os.Stderr, "warning: skipping sidecar: %v\n", err)
			continue
		}
		sidecars = append(sidecars, s)
		dirs = append(dirs, loc.MediaDir)
	}
	return sidecars, dirs, nil
}

func emitSearchResults(results []search.Result, pathsOnly bool, exportTo string, open bool) error {
	if exportTo != "" {
		if err := exportJSON(exportTo, results); err != nil {
			return err
		}
	}
	for _, r := range results {
		if pathsOnly {
			fmt.Println(r.Path)
			continue
		}
		if r.Timestamp != nil {
			fmt.Printf("%.4f  %s  @%.1fs\n", r.Score, r.Path, *r.Timestamp)
		} else {
			fmt.Printf("%.4f  %s\n", r.Score, r.Path)
		}
	}
	if open && len(results) > 0 {
		openInOSViewer(results[0].Path)
	}
	return nil
}

// openInOSViewer shells out to the platform's default file opener. Errors
// are reported but not fatal: --open is a convenience, not the point of the
// command.
func openInOSViewer(path string) {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open %s: %v\n", path, err)
	}
}

func exportJSON(dest string, v interface{}) error {
	if dest == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if dest == "-" {
		_, err := io.WriteString(os.Stdout, string(data)+"\n")
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
