package core

import "sort"

// Rank maps each admitted job id to its 1-based queue position, ordered by
// CreatedAt and then ID. Jobs outside the admitted set are absent.
func Rank(jobs []*Job) map[string]int {
	admitted := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status.IsAdmitted() {
			admitted = append(admitted, j)
		}
	}

	sort.Slice(admitted, func(a, b int) bool {
		ja, jb := admitted[a], admitted[b]
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})

	positions := make(map[string]int, len(admitted))
	for i, j := range admitted {
		positions[j.ID] = i + 1
	}
	return positions
}
