package address

import "sort"

// Iterator walks the individual addresses of a Set in either direction. It
// operates on a snapshot of the set's ranges taken at construction, so later
// mutation of the set does not disturb an iteration in flight.
type Iterator struct {
	ranges  []Range
	forward bool
	idx     int
	cur     Address
	valid   bool
}

// Addresses returns an iterator positioned at the first set address at or
// after start (forward) or at or before start (backward). A zero start seats
// the iterator at the set's first or last address.
func (s *Set) Addresses(start Address, forward bool) *Iterator {
	it := &Iterator{
		ranges:  append([]Range(nil), s.ranges...),
		forward: forward,
	}
	if len(it.ranges) == 0 {
		return it
	}
	if forward {
		if start.IsZero() {
			it.cur = it.ranges[0].min
			it.valid = true
			return it
		}
		i := sort.Search(len(it.ranges), func(i int) bool {
			return it.ranges[i].max.Compare(start) >= 0
		})
		if i < len(it.ranges) {
			it.idx = i
			it.cur = it.ranges[i].min
			if start.Compare(it.cur) > 0 {
				it.cur = start
			}
			it.valid = true
		}
		return it
	}
	if start.IsZero() {
		it.idx = len(it.ranges) - 1
		it.cur = it.ranges[it.idx].max
		it.valid = true
		return it
	}
	i := sort.Search(len(it.ranges), func(i int) bool {
		return it.ranges[i].min.Compare(start) > 0
	}) - 1
	if i >= 0 {
		it.idx = i
		it.cur = it.ranges[i].max
		if start.Compare(it.cur) < 0 {
			it.cur = start
		}
		it.valid = true
	}
	return it
}

// Next returns the next address in the iteration, or false when exhausted.
func (it *Iterator) Next() (Address, bool) {
	if !it.valid {
		return Address{}, false
	}
	a := it.cur
	if it.forward {
		if it.cur.Compare(it.ranges[it.idx].max) < 0 {
			it.cur, _ = it.cur.Next()
		} else if it.idx+1 < len(it.ranges) {
			it.idx++
			it.cur = it.ranges[it.idx].min
		} else {
			it.valid = false
		}
	} else {
		if it.cur.Compare(it.ranges[it.idx].min) > 0 {
			it.cur, _ = it.cur.Prev()
		} else if it.idx > 0 {
			it.idx--
			it.cur = it.ranges[it.idx].max
		} else {
			it.valid = false
		}
	}
	return a, true
}
