package renderer

import (
	"sort"
	"strconv"
)

// OutputFile describes one image produced by a completed render, as
// reported under history.outputs.<nodeId>.images[].
type OutputFile struct {
	NodeID    string
	Filename  string
	Subfolder string
	Type      string
}

// ExtractOutputFiles walks history's outputs section and collects every
// image entry. When expectedNodeIDs is non-empty, only outputs from those
// node ids are returned.
func ExtractOutputFiles(history map[string]interface{}, expectedNodeIDs []string) []OutputFile {
	var allowed map[string]struct{}
	if len(expectedNodeIDs) > 0 {
		allowed = make(map[string]struct{}, len(expectedNodeIDs))
		for _, id := range expectedNodeIDs {
			allowed[id] = struct{}{}
		}
	}

	outputs, _ := history["outputs"].(map[string]interface{})
	nodeIDs := make([]string, 0, len(outputs))
	for nodeID := range outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		a, errA := strconv.Atoi(nodeIDs[i])
		b, errB := strconv.Atoi(nodeIDs[j])
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return nodeIDs[i] < nodeIDs[j]
	})

	var discovered []OutputFile
	for _, nodeID := range nodeIDs {
		raw := outputs[nodeID]
		if allowed != nil {
			if _, ok := allowed[nodeID]; !ok {
				continue
			}
		}
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		images, ok := node["images"].([]interface{})
		if !ok {
			continue
		}
		for _, rawImage := range images {
			image, ok := rawImage.(map[string]interface{})
			if !ok {
				continue
			}
			filename, _ := image["filename"].(string)
			if filename == "" {
				continue
			}
			subfolder, _ := image["subfolder"].(string)
			imageType, _ := image["type"].(string)
			if imageType == "" {
				imageType = "output"
			}
			discovered = append(discovered, OutputFile{
				NodeID:    nodeID,
				Filename:  filename,
				Subfolder: subfolder,
				Type:      imageType,
			})
		}
	}
	return discovered
}
