package points

// Level is a user's level, always derived from points.
type Level int

// PointsPerLevel is the width of one level band.
const PointsPerLevel = 100

// CalculateLevel returns floor(points/100) + 1.
func CalculateLevel(points int) Level {
	if points < 0 {
		points = 0
	}
	return Level(points/PointsPerLevel + 1)
}

// Int returns the level as a plain int.
func (l Level) Int() int {
	return int(l)
}

// PointsToNextLevel returns how many points are missing for the next level.
func PointsToNextLevel(points int) int {
	if points < 0 {
		points = 0
	}
	return PointsPerLevel - points%PointsPerLevel
}
