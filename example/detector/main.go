package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/config"
	"github.com/sugarme/noduledet/detector"
	"github.com/sugarme/noduledet/pbb"
	"github.com/sugarme/noduledet/preview"
)

// flag variables
var (
	ConfigPath string
	ModelPath  string
	OutDir     string
	Cuda       bool
	task       string
	Device     gotch.Device
)

// run parameters
var (
	BatchSize int   // number of volumes per forward pass
	CubeSize  int64 // input cube side in voxels
	Iters     int   // forward passes for memory check
	Thresh    float64
	NmsTh     float64
)

func init() {
	flag.StringVar(&ConfigPath, "config", "", "specify detector config yaml file. Empty uses defaults.")
	flag.StringVar(&ModelPath, "model", "", "specify full path to model weight '.ot' file.")
	flag.StringVar(&OutDir, "out", "./output", "specify output directory")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.StringVar(&task, "task", "model", "specify task to run: model|vars|detect")
	flag.IntVar(&BatchSize, "batch", 1, "specify batch size")
	flag.Int64Var(&CubeSize, "cube", 64, "specify input cube size (multiple of max_stride)")
	flag.IntVar(&Iters, "iters", 10, "specify number of forward passes for the memory check")
	flag.Float64Var(&Thresh, "thresh", pbb.DefaultThreshold, "specify objectness logit threshold")
	flag.Float64Var(&NmsTh, "nms", 0.1, "specify nms IoU threshold")
}

func main() {
	flag.Parse()

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	switch task {
	case "model":
		runCheckModel()
	case "vars":
		runPrintVars()
	case "detect":
		runDetect()
	default:
		err := fmt.Errorf("Unknown 'task' name. Please specify valid 'task' flag to run.\n")
		panic(err)
	}
}

// loadModel builds the detector and optionally loads weights.
func loadModel(vs *nn.VarStore) (config.Config, *detector.Net, *pbb.GetPBB) {
	cfg := config.Default()
	if ConfigPath != "" {
		var err error
		cfg, err = config.Load(absPath(ConfigPath))
		if err != nil {
			log.Fatal(err)
		}
	}

	net, _, getPBB, err := detector.GetModelWithConfig(vs.Root(), cfg)
	if err != nil {
		log.Fatal(err)
	}

	if ModelPath != "" {
		missings, err := vs.LoadPartial(absPath(ModelPath))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Num of missings: %v\n", len(missings))
		for _, m := range missings {
			fmt.Printf("Missing Var: %v\n", m)
		}
	}

	return cfg, net, getPBB
}

// coordVolume makes normalized (z, y, x) coordinates in [-0.5, 0.5) on the
// output grid, repeated over the batch.
func coordVolume(batch, size, stride int64) *ts.Tensor {
	n := size / stride
	grid := ts.MustArange(ts.IntScalar(n), gotch.Float, gotch.CPU).MustDivScalar(ts.FloatScalar(float64(n)), true).MustSubScalar(ts.FloatScalar(0.5), true)

	zz := grid.MustView([]int64{n, 1, 1}, false).MustExpand([]int64{n, n, n}, true, true)
	yy := grid.MustView([]int64{1, n, 1}, false).MustExpand([]int64{n, n, n}, true, true)
	xx := grid.MustView([]int64{1, 1, n}, true).MustExpand([]int64{n, n, n}, true, true)
	coord := ts.MustStack([]*ts.Tensor{zz, yy, xx}, 0)
	zz.MustDrop()
	yy.MustDrop()
	xx.MustDrop()

	return coord.MustUnsqueeze(0, true).MustRepeat([]int64{batch, 1, 1, 1, 1}, true)
}

func runCheckModel() {
	vs := nn.NewVarStore(Device)
	cfg, net, _ := loadModel(vs)

	image := ts.MustRand([]int64{int64(BatchSize), 1, CubeSize, CubeSize, CubeSize}, gotch.Float, gotch.CPU).MustTo(Device, true)
	coord := coordVolume(int64(BatchSize), CubeSize, cfg.Stride).MustTo(Device, true)
	if err := net.CheckInput(image, coord); err != nil {
		log.Fatal(err)
	}

	for i := 0; i < Iters; i++ {
		ts.NoGrad(func() {
			ram0 := usedRAM()
			out := net.ForwardDetect(image, coord, false)
			size := out.MustSize()
			out.MustDrop()
			ram1 := usedRAM()
			fmt.Printf("%02d- Output: %v\t Leak: %8.2fMB\n", i, size, (float64(ram1)-float64(ram0))/1024)
		})
	}

	image.MustDrop()
	coord.MustDrop()
}

// runPrintVars prints variables sorted by name
func runPrintVars() {
	vs := nn.NewVarStore(Device)
	loadModel(vs)

	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		fmt.Printf("%v \t\t %v\n", n, v.MustSize())
	}
}

// runDetect runs detection on a random cube, writes boxes as csv, a preview
// of the middle slice and a score histogram.
func runDetect() {
	vs := nn.NewVarStore(Device)
	cfg, net, getPBB := loadModel(vs)

	outDir := absPath(OutDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatal(err)
	}

	volume := ts.MustRand([]int64{1, 1, CubeSize, CubeSize, CubeSize}, gotch.Float, gotch.CPU)
	coord := coordVolume(1, CubeSize, cfg.Stride)

	var boxes []pbb.Box
	ts.NoGrad(func() {
		input := volume.MustTo(Device, false)
		c := coord.MustTo(Device, false)
		out := net.ForwardDetect(input, c, false)
		input.MustDrop()
		c.MustDrop()
		batch, err := getPBB.ExtractBatch(out, Thresh, NmsTh)
		out.MustDrop()
		if err != nil {
			log.Fatal(err)
		}
		boxes = batch[0]
	})
	coord.MustDrop()
	fmt.Printf("Detected %v boxes\n", len(boxes))

	f, err := os.Create(filepath.Join(outDir, "pbb.csv"))
	if err != nil {
		log.Fatal(err)
	}
	if err := pbb.WriteCSV(f, boxes); err != nil {
		log.Fatal(err)
	}
	f.Close()

	voxels := make([]float32, CubeSize*CubeSize*CubeSize)
	volume.MustCopyData(voxels, uint(len(voxels)))
	volume.MustDrop()

	img, err := preview.Slice(voxels, []int64{CubeSize, CubeSize, CubeSize}, int(CubeSize/2), boxes, 4)
	if err != nil {
		log.Fatal(err)
	}
	if err := preview.SavePNG(img, filepath.Join(outDir, "slice.png")); err != nil {
		log.Fatal(err)
	}

	if len(boxes) > 0 {
		if err := preview.ScoreHistogram(boxes, 10, filepath.Join(outDir, "scores.png")); err != nil {
			log.Fatal(err)
		}
	}
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
