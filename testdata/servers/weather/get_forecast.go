// Get the weather forecast for a city.
//
// Args:
//
//	city (string): city name, e.g. "Oslo"
//	days (number): forecast length, 1 to 7
//
// Returns a map with "city" and "days" keys.
package weather
