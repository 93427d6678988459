package gen

// gen holds small generic helpers that get used all over the place

// DeleteFromSliceUnordered removes element i by swapping the last element into its place
func DeleteFromSliceUnordered[T any](slice []T, i int) []T {
	slice[i] = slice[len(slice)-1]
	return slice[:len(slice)-1]
}

func Clamp[T int | int64 | float32 | float64](v, min, max T) T {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
