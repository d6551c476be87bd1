package content

import (
	"testing/fstest"
)

func cryptFS() fstest.MapFS {
	return fstest.MapFS{
		"crypt/manifest.json": {Data: []byte(`{
		  "package_id":"crypt",
		  "title":"The Sunken Crypt",
		  "entry_points":["A1"],
		  "plot":{
		    "stage":"intro",
		    "objectives":[{"id":"find-relic","text":"Find the relic","location":"A3"}],
		    "events":[{"id":"trapdoor","from":"A2","to":"A9","text":"The floor gives way."}]
		  }
		}`)},
		"crypt/areas/upper.json": {Data: []byte(`{
		  "area_id":"upper",
		  "name":"Upper Crypt",
		  "locations":[
		    {"location_id":"A1","name":"Stair","connections":["A2"],"external":[{"package_id":"town","location_id":"gate"}]},
		    {"location_id":"A2","name":"Hall","connections":["A3"]},
		    {"location_id":"A3","name":"Ossuary"},
		    {"location_id":"A9","name":"Pit","isolated":true}
		  ]
		}`)},
		"notes.txt":       {Data: []byte("not a package")},
		"empty/readme.md": {Data: []byte("no manifest")},
	}
}
