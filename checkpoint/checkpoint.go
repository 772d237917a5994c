// Package checkpoint はフォールドごとのモデル状態を gob 形式で保存・読み込みします。
// ファイル名は {model}_{YYYYMMDD-HHMM}_fold{N}_{best|final}.ckpt です。
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/beanscope/engine"
	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// Kind はチェックポイントの種類です。
type Kind string

const (
	// KindBest は検証精度が改善するたびに上書きされる
	KindBest Kind = "best"
	// KindFinal はフォールド終了時に一度だけ書き込まれる
	KindFinal Kind = "final"
)

// Extension はチェックポイントファイルの拡張子です。
const Extension = ".ckpt"

// Checkpoint はある時点のモデルとオプティマイザの状態です。
type Checkpoint struct {
	Architecture   string
	Fold           int
	Kind           Kind
	Epoch          int
	ValAccuracy    float64
	Parameters     map[string][]float64
	OptimizerState map[string][]float64
	OptimizerStep  int
	LearningRate   float64
	CreatedAt      time.Time
}

// Capture はモデルとオプティマイザの現在の状態をコピーして Checkpoint を作成する
func Capture(model engine.Model, opt engine.Optimizer, fold int, kind Kind, epoch int, valAcc float64) *Checkpoint {
	params := make(map[string][]float64, len(model.Parameters()))
	for _, p := range model.Parameters() {
		params[p.Name] = append([]float64(nil), p.Value...)
	}
	return &Checkpoint{
		Architecture:   model.Name(),
		Fold:           fold,
		Kind:           kind,
		Epoch:          epoch,
		ValAccuracy:    valAcc,
		Parameters:     params,
		OptimizerState: opt.StateDict(),
		OptimizerStep:  opt.Steps(),
		LearningRate:   opt.LearningRate(),
		CreatedAt:      time.Now().UTC(),
	}
}

// Restore はチェックポイントのパラメータ値をモデルへ書き戻す
func (c *Checkpoint) Restore(model engine.Model) error {
	for _, p := range model.Parameters() {
		v, ok := c.Parameters[p.Name]
		if !ok {
			return errors.NewValueError("Checkpoint.Restore", fmt.Sprintf("parameter %q missing from checkpoint", p.Name))
		}
		if len(v) != len(p.Value) {
			return errors.NewDimensionError("Checkpoint.Restore", len(p.Value), len(v), 1)
		}
		copy(p.Value, v)
	}
	return nil
}

// FileName はランと種類からチェックポイントのファイル名を返す
func FileName(runName string, fold int, kind Kind) string {
	return fmt.Sprintf("%s_fold%d_%s%s", runName, fold, kind, Extension)
}

// Store はディレクトリ配下にチェックポイントを保存する
type Store struct {
	Dir string
}

// NewStore はディレクトリを作成して Store を返す
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint directory %s", dir)
	}
	return &Store{Dir: dir}, nil
}

// Path はチェックポイントの保存先パスを返す
func (s *Store) Path(runName string, fold int, kind Kind) string {
	return filepath.Join(s.Dir, FileName(runName, fold, kind))
}

// Save はチェックポイントを保存し、パスを返す
// 一時ファイルに書き込んでから rename するため、既存の best を途中状態で壊さない
func (s *Store) Save(runName string, ckpt *Checkpoint) (string, error) {
	path := s.Path(runName, ckpt.Fold, ckpt.Kind)

	tmp, err := os.CreateTemp(s.Dir, ".ckpt-*")
	if err != nil {
		return "", errors.Wrap(err, "create temporary checkpoint")
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, ckpt); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close temporary checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrapf(err, "move checkpoint to %s", path)
	}
	return path, nil
}

// Load はファイルからチェックポイントを読み込む
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer file.Close()
	return Decode(file)
}

// Encode はチェックポイントを io.Writer に書き込む
func Encode(w io.Writer, ckpt *Checkpoint) error {
	if err := gob.NewEncoder(w).Encode(ckpt); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	return nil
}

// Decode は io.Reader からチェックポイントを読み込む
func Decode(r io.Reader) (*Checkpoint, error) {
	var ckpt Checkpoint
	if err := gob.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return &ckpt, nil
}
