// Get current weather conditions for a city.
//
// Args:
//
//	city (string): city name
package weather
