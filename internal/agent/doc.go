// Package agent drives goal execution end to end. It asks the planner for
// candidate actions, ranks them with the preference model, routes the winners
// through the action router, and archives the finished run so that later
// feedback can be turned into training data.
package agent
