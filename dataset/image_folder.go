package dataset

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
	"github.com/YuminosukeSato/beanscope/pkg/log"
)

// DefaultExtensions are the image file extensions picked up by ImageFolder.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageNet channel statistics used for normalisation.
var (
	imageNetMean = [3]float64{0.485, 0.456, 0.406}
	imageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// ImageFolder is a dataset loaded from a directory where each
// sub-directory is a class. Class indices follow the sorted directory names.
type ImageFolder struct {
	root       string
	imagePaths []string
	labels     []int
	classNames []string
	size       int
	cache      bool

	mu      sync.Mutex
	decoded map[int][]float64
}

// ImageFolderOption configures an ImageFolder.
type ImageFolderOption func(*ImageFolder)

// WithCache keeps decoded feature vectors in memory after first use.
// Enabled by default.
func WithCache(enabled bool) ImageFolderOption {
	return func(f *ImageFolder) { f.cache = enabled }
}

// NewImageFolder scans root for class directories and image files. Images
// are resized to size x size when loaded.
func NewImageFolder(root string, size int, extensions []string, opts ...ImageFolderOption) (*ImageFolder, error) {
	if size <= 0 {
		return nil, errors.NewValidationError("image_size", "must be positive", size)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	f := &ImageFolder{
		root:    root,
		size:    size,
		cache:   true,
		decoded: make(map[int][]float64),
	}
	for _, opt := range opts {
		opt(f)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset root %s", root)
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		classIdx := len(f.classNames)
		f.classNames = append(f.classNames, entry.Name())

		files, err := os.ReadDir(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read class directory %s", entry.Name())
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(file.Name()))
			if !slices.Contains(extensions, ext) {
				continue
			}
			f.imagePaths = append(f.imagePaths, filepath.Join(root, entry.Name(), file.Name()))
			f.labels = append(f.labels, classIdx)
		}
	}

	if len(f.imagePaths) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "no images found in %s", root)
	}
	if len(f.classNames) < 2 {
		return nil, errors.NewValidationError("classes", "need at least two class directories", f.classNames)
	}

	log.GetLoggerWithName("dataset").Info("Loaded image folder",
		log.PathKey, root,
		log.SamplesKey, len(f.imagePaths),
		log.ClassesKey, len(f.classNames),
		log.ClassNamesKey, f.classNames,
	)
	return f, nil
}

// Len returns the number of images.
func (f *ImageFolder) Len() int { return len(f.imagePaths) }

// Label returns the class index of image index.
func (f *ImageFolder) Label(index int) int { return f.labels[index] }

// ClassNames returns the class names in label order.
func (f *ImageFolder) ClassNames() []string { return f.classNames }

// InputDim is 3 x size x size.
func (f *ImageFolder) InputDim() int { return 3 * f.size * f.size }

// Path returns the file backing image index.
func (f *ImageFolder) Path(index int) string { return f.imagePaths[index] }

// ClassDistribution returns the number of images per class name.
func (f *ImageFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int, len(f.classNames))
	for _, label := range f.labels {
		dist[f.classNames[label]]++
	}
	return dist
}

// Features decodes, resizes and normalises image index.
func (f *ImageFolder) Features(index int) ([]float64, error) {
	if index < 0 || index >= len(f.imagePaths) {
		return nil, errors.NewValueError("ImageFolder.Features", "index out of range")
	}

	if f.cache {
		f.mu.Lock()
		v, ok := f.decoded[index]
		f.mu.Unlock()
		if ok {
			return v, nil
		}
	}

	v, err := loadImage(f.imagePaths[index], f.size)
	if err != nil {
		return nil, err
	}

	if f.cache {
		f.mu.Lock()
		f.decoded[index] = v
		f.mu.Unlock()
	}
	return v, nil
}

func loadImage(path string, size int) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return Preprocess(img, size), nil
}

// Preprocess resizes img to size x size with bilinear interpolation, scales
// pixels to [0,1], normalises them with ImageNet mean and std and returns
// the result flattened in CHW order.
func Preprocess(img image.Image, size int) []float64 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float64, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			pos := y*size + x
			for c := 0; c < 3; c++ {
				v := float64(dst.Pix[off+c]) / 255.0
				out[c*plane+pos] = (v - imageNetMean[c]) / imageNetStd[c]
			}
		}
	}
	return out
}
