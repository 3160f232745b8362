//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"encoding/json"
	"fmt"
)

// PrettyPrint outputs a readable JSON representation of the provided data structure.
func PrettyPrint(data interface{}) {
	p, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		fmt.Println(err)
	} else {
		fmt.Printf("%s \n", p)
	}
}

// CompactJSON serializes data to a single-line JSON string. Values that
// cannot be marshaled degrade to their %+v rendering so that audit detail
// blobs are never lost to an encoding error.
func CompactJSON(data interface{}) string {
	p, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%+v", data)
	}
	return string(p)
}
