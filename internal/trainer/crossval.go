package trainer

import (
	"context"
	"fmt"
	"slices"
)

// StratifiedFolds partitions row indices into k test folds. Each class's rows are dealt
// across the folds in order, continuing where the previous class stopped, so class
// proportions and fold sizes stay balanced.
func StratifiedFolds(labels []int, numClasses, k int) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", len(labels), k)
	}

	byClass := make([][]int, numClasses)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}

	largest := 0
	for _, rows := range byClass {
		largest = max(largest, len(rows))
	}
	if largest < k {
		return nil, fmt.Errorf("%d folds is more than the number of rows in every class", k)
	}

	folds := make([][]int, k)
	next := 0
	for _, rows := range byClass {
		for _, i := range rows {
			folds[next] = append(folds[next], i)
			next = (next + 1) % k
		}
	}
	for _, fold := range folds {
		slices.Sort(fold)
	}
	return folds, nil
}

// CrossValidate returns the mean accuracy over stratified k-fold cross-validation
func CrossValidate(ctx context.Context, ds *Dataset, opts Options, k int) (float64, error) {
	folds, err := StratifiedFolds(ds.Labels, len(ds.Classes), k)
	if err != nil {
		return 0, err
	}

	var total float64
	for f, test := range folds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		train := make([]int, 0, ds.Len()-len(test))
		for g, fold := range folds {
			if g != f {
				train = append(train, fold...)
			}
		}
		slices.Sort(train)

		tree := Fit(ds, train, opts)
		total += accuracy(tree, ds, test)
	}

	return total / float64(k), nil
}

func accuracy(tree *Tree, ds *Dataset, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}

	var correct int
	for _, i := range indices {
		if tree.Predict(ds.Features[i]) == ds.Classes[ds.Labels[i]] {
			correct++
		}
	}
	return float64(correct) / float64(len(indices))
}
