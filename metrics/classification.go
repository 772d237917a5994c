// Package metrics は分類器の評価指標を提供します。
// 混同行列を基に正解率とマクロ平均の適合率・再現率・F1スコアを計算します。
package metrics

import (
	"fmt"
	"slices"
	"strings"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// ConfusionMatrix はクラスごとの予測結果を集計した混同行列です。
// Counts[i][j] は正解ラベルが Labels[i] で予測ラベルが Labels[j] のサンプル数です。
type ConfusionMatrix struct {
	Labels []int
	Counts [][]int
	index  map[int]int
}

// NewConfusionMatrix は正解ラベルと予測ラベルから混同行列を作成する
// ラベル集合は両方に現れるラベルの和集合（昇順）になる
func NewConfusionMatrix(yTrue, yPred []int) (*ConfusionMatrix, error) {
	// 入力検証
	if len(yTrue) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "empty labels")
	}
	if len(yPred) != len(yTrue) {
		return nil, errors.NewDimensionError("ConfusionMatrix", len(yTrue), len(yPred), 0)
	}

	labels := make([]int, 0, len(yTrue))
	labels = append(labels, yTrue...)
	labels = append(labels, yPred...)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	cm := &ConfusionMatrix{
		Labels: labels,
		Counts: make([][]int, len(labels)),
		index:  make(map[int]int, len(labels)),
	}
	for i, l := range labels {
		cm.index[l] = i
		cm.Counts[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		cm.Counts[cm.index[yTrue[i]]][cm.index[yPred[i]]]++
	}
	return cm, nil
}

// Total はサンプル総数を返す
func (cm *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range cm.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// Correct は対角成分の合計（正しく分類されたサンプル数）を返す
func (cm *ConfusionMatrix) Correct() int {
	correct := 0
	for i := range cm.Counts {
		correct += cm.Counts[i][i]
	}
	return correct
}

// counts はクラス i の TP, FP, FN を返す
func (cm *ConfusionMatrix) counts(i int) (tp, fp, fn int) {
	tp = cm.Counts[i][i]
	for j := range cm.Counts {
		if j == i {
			continue
		}
		fp += cm.Counts[j][i]
		fn += cm.Counts[i][j]
	}
	return tp, fp, fn
}

// ClassScores は一つのクラスの評価指標です。
type ClassScores struct {
	Label     int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report は分類結果の要約です。Accuracy は 0〜1 の割合です。
type Report struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	PerClass  []ClassScores
}

// ClassificationReport は正解率とマクロ平均の適合率・再現率・F1を計算する
//
// scikit-learn の average="macro", zero_division=0 と同じ挙動:
//   - 対象クラスは正解・予測のどちらかに現れたクラス
//   - 分母が 0 になるクラスの値は 0 とし、UndefinedMetricWarning を発行する
func ClassificationReport(yTrue, yPred []int) (*Report, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	n := len(cm.Labels)
	report := &Report{
		Accuracy: float64(cm.Correct()) / float64(cm.Total()),
		PerClass: make([]ClassScores, n),
	}

	var noPred, noTrue []int
	for i, label := range cm.Labels {
		tp, fp, fn := cm.counts(i)
		s := ClassScores{Label: label, Support: tp + fn}

		if tp+fp > 0 {
			s.Precision = float64(tp) / float64(tp+fp)
		} else {
			noPred = append(noPred, label)
		}
		if tp+fn > 0 {
			s.Recall = float64(tp) / float64(tp+fn)
		} else {
			noTrue = append(noTrue, label)
		}
		// F1 = 2TP / (2TP + FP + FN)。分母 0 は和集合の定義上起こらない
		if denom := 2*tp + fp + fn; denom > 0 {
			s.F1 = 2 * float64(tp) / float64(denom)
		}

		report.PerClass[i] = s
		report.Precision += s.Precision
		report.Recall += s.Recall
		report.F1 += s.F1
	}

	report.Precision /= float64(n)
	report.Recall /= float64(n)
	report.F1 /= float64(n)

	if len(noPred) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision",
			fmt.Sprintf("no predicted samples in labels [%s]", joinInts(noPred)), 0))
	}
	if len(noTrue) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall",
			fmt.Sprintf("no true samples in labels [%s]", joinInts(noTrue)), 0))
	}

	return report, nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, " ")
}
