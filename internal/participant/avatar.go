package participant

import "hash/fnv"

var palette = []string{
	"#EF4444", "#F97316", "#F59E0B", "#84CC16",
	"#10B981", "#06B6D4", "#3B82F6", "#6366F1",
	"#8B5CF6", "#D946EF", "#EC4899", "#64748B",
}

// AvatarColor picks a stable palette color for a display name.
func AvatarColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}
